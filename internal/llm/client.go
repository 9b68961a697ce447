// Package llm talks to the local inference server. Completions go through its
// OpenAI-compatible /v1 endpoint; model discovery uses the native /api/tags.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-publish-agent/internal/config"
)

// ErrEmptyCompletion is returned when the server answers without choices.
var ErrEmptyCompletion = errors.New("llm: no content choices returned")

// Client is a thin wrapper around the inference server.
type Client struct {
	client *openai.Client
	http   *http.Client
	host   string
	model  string
}

// New builds a client for cfg. Retries are disabled; callers own fallback behavior.
func New(cfg config.OllamaConfig) *Client {
	hc := &http.Client{Timeout: cfg.Timeout}
	options := []option.RequestOption{
		option.WithBaseURL(cfg.Host + "/v1/"),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}
	client := openai.NewClient(options...)
	return &Client{client: &client, http: hc, host: cfg.Host, model: cfg.Model}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends one system+user exchange and returns the assistant text.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := otel.Tracer("llm").Start(ctx, "Generate",
		trace.WithAttributes(attribute.String("llm.model", c.model), attribute.Int("llm.prompt_len", len(prompt))))
	defer span.End()

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    c.model,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("llm generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	log.Debug().Str("model", c.model).Dur("took", time.Since(start)).Msg("llm completion")
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Models lists the model names installed on the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api/tags: HTTP %d", resp.StatusCode)
	}
	var names []string
	for _, n := range gjson.GetBytes(body, "models.#.name").Array() {
		names = append(names, n.String())
	}
	return names, nil
}

// Ping checks that the server answers and reports whether the configured
// model is installed.
func (c *Client) Ping(ctx context.Context) (modelReady bool, err error) {
	names, err := c.Models(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == c.model || strings.TrimSuffix(n, ":latest") == c.model {
			return true, nil
		}
	}
	return false, nil
}
