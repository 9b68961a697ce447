// Package registry registers public form URLs with the verifiable contract
// API, which notarizes them on a ledger.
//
// A registration is a single attempt: no retries are made here and callers
// decide whether to try again. The public URL is always returned, even on
// failure, so it can be logged and shown to the user.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-publish-agent/internal/config"
)

// Result is the outcome of one registration.
type Result struct {
	Success         bool            `json:"success"`
	URL             string          `json:"url"`
	TransactionHash string          `json:"transaction_hash,omitempty"`
	BlockNumber     int64           `json:"block_number,omitempty"`
	GasUsed         int64           `json:"gas_used,omitempty"`
	Raw             json.RawMessage `json:"contract_response,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Verification is the answer of the verify endpoint.
type Verification struct {
	URL        string `json:"url"`
	IsVerified bool   `json:"isVerified"`
}

// Client talks to the registry API.
type Client struct {
	Endpoint        string // e.g. http://localhost:3002/api/urls
	FrontendBaseURL string
	HTTP            *http.Client
}

// New builds a Client from configuration.
func New(reg config.RegistryConfig, frontendBaseURL string) *Client {
	return &Client{
		Endpoint:        strings.TrimRight(reg.Endpoint, "/"),
		FrontendBaseURL: strings.TrimRight(frontendBaseURL, "/"),
		HTTP:            &http.Client{Timeout: reg.Timeout},
	}
}

// PublicURL is the canonical, deterministic public link for a form version.
func (c *Client) PublicURL(formID, fingerprint string) string {
	return fmt.Sprintf("%s/public/form/%s/%s", c.FrontendBaseURL, url.PathEscape(formID), url.PathEscape(fingerprint))
}

// registerRequest is the body of POST {endpoint}. The contract fills in the
// timestamp itself, so it is always sent as null.
type registerRequest struct {
	URL      string           `json:"url"`
	Metadata registerMetadata `json:"metadata"`
}

type registerMetadata struct {
	FormID          string  `json:"form_id"`
	JSONFingerprint string  `json:"json_fingerprint"`
	Timestamp       *string `json:"timestamp"` // set by the contract
}

// Register posts the public URL for (formID, fingerprint). It never returns
// an error; failures are described in Result.Error.
func (c *Client) Register(ctx context.Context, formID, fingerprint string) Result {
	ctx, span := otel.Tracer("registry").Start(ctx, "Register",
		trace.WithAttributes(attribute.String("form.id", formID)))
	defer span.End()

	publicURL := c.PublicURL(formID, fingerprint)
	res := Result{URL: publicURL}

	payload, _ := json.Marshal(registerRequest{
		URL:      publicURL,
		Metadata: registerMetadata{FormID: formID, JSONFingerprint: fingerprint},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		res.Error = fmt.Sprintf("Unexpected error: %v", err)
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	log.Info().Str("url", publicURL).Msg("registering public form url")
	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		span.RecordError(err)
		res.Error = fmt.Sprintf("Network error: %v", err)
		log.Error().Err(err).Str("form_id", formID).Msg("registry unreachable")
		return res
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	// anything but 200 is a failed registration
	if resp.StatusCode != http.StatusOK {
		res.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		log.Error().Int("status", resp.StatusCode).Str("form_id", formID).Msg("registry rejected url")
		return res
	}

	res.Success = true
	// receipt fields are informative; a 200 without them is still a success
	if gjson.ValidBytes(body) {
		res.Raw = json.RawMessage(body)
		res.TransactionHash = gjson.GetBytes(body, "transactionHash").String()
		res.BlockNumber = number(gjson.GetBytes(body, "blockNumber"))
		res.GasUsed = number(gjson.GetBytes(body, "gasUsed"))
	}
	span.SetAttributes(attribute.String("registry.tx_hash", res.TransactionHash))
	log.Info().Str("form_id", formID).Str("tx_hash", res.TransactionHash).
		Int64("block", res.BlockNumber).Dur("took", time.Since(start)).Msg("url registered")
	return res
}

// Verify asks whether publicURL is registered.
func (c *Client) Verify(ctx context.Context, publicURL string) (Verification, error) {
	u := c.Endpoint + "/verify?" + url.Values{"url": {publicURL}}.Encode()
	body, err := c.get(ctx, u)
	if err != nil {
		return Verification{URL: publicURL}, err
	}
	v := Verification{URL: publicURL}
	// isVerified wins over verified when both are present
	if r := gjson.GetBytes(body, "isVerified"); r.Exists() {
		v.IsVerified = r.Bool()
	} else {
		v.IsVerified = gjson.GetBytes(body, "verified").Bool()
	}
	return v, nil
}

// Status fetches the API status document (the endpoint with /urls replaced by /status).
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, c.statusURL())
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// statusURL maps http://host/api/urls to http://host/api/status.
func (c *Client) statusURL() string {
	if i := strings.LastIndex(c.Endpoint, "/urls"); i >= 0 {
		return c.Endpoint[:i] + "/status" + c.Endpoint[i+len("/urls"):]
	}
	return c.Endpoint + "/status"
}

// get fetches u and requires a 200 with a JSON body.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON from %s", u)
	}
	return body, nil
}

// number accepts JSON numbers, decimal strings and 0x-prefixed hex strings.
func number(r gjson.Result) int64 {
	if r.Type == gjson.String {
		s := strings.TrimSpace(r.Str)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, _ := strconv.ParseInt(s[2:], 16, 64)
			return n
		}
	}
	return r.Int()
}
