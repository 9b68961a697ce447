// Package interceptor – Proxy
//
// This file implements the single decision point in front of the inference
// server. A generate or chat request whose prompt has a pending injection is
// answered locally with the stored reply; every other request is forwarded
// untouched while the response is teed into a buffer. Once the client has
// been answered, the exchange is recorded in the Ring and handed to the
// Observer on a tracked goroutine, so a slow observer never delays clients.
package interceptor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-publish-agent/internal/observability"
)

// Observer receives finished exchanges. It runs on its own goroutine after
// the client has been answered.
type Observer interface {
	Observe(ctx context.Context, ex Exchange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ex Exchange)

// Observe calls f(ctx, ex).
func (f ObserverFunc) Observe(ctx context.Context, ex Exchange) { f(ctx, ex) }

const (
	defaultMaxBody    = 8 << 20
	defaultObserveTTL = 5 * time.Minute
)

// Proxy is the reverse proxy in front of the inference server.
type Proxy struct {
	Ring       *Ring
	Injections InjectionStore
	Observer   Observer
	// Inject enables answering from Injections instead of forwarding.
	Inject bool
	// MaxBody caps how much of a request or response is buffered for inspection.
	MaxBody int64
	// ObserveTimeout bounds one Observer call.
	ObserveTimeout time.Duration
	// Now stamps exchanges; tests replace it.
	Now func() time.Time

	target *url.URL
	rp     *httputil.ReverseProxy
	wg     sync.WaitGroup
}

// NewProxy returns a Proxy forwarding to target.
func NewProxy(target *url.URL, ring *Ring, inj InjectionStore, obs Observer, inject bool) *Proxy {
	p := &Proxy{
		Ring:           ring,
		Injections:     inj,
		Observer:       obs,
		Inject:         inject,
		MaxBody:        defaultMaxBody,
		ObserveTimeout: defaultObserveTTL,
		Now:            time.Now,
		target:         target,
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// keep response bodies readable for reassembly
			pr.Out.Header.Del("Accept-Encoding")
		},
		// stream chunks to the client as soon as they arrive
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("inference server unreachable")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"inference server unreachable"}`))
		},
	}
	return p
}

// Target is the upstream base URL.
func (p *Proxy) Target() *url.URL { return p.target }

// inspected reports whether r carries a prompt worth looking at. Everything
// else (model listing, embeddings, pulls) is proxied blind.
func inspected(r *http.Request) bool {
	return r.Method == http.MethodPost && (r.URL.Path == EndpointGenerate || r.URL.Path == EndpointChat)
}

// ServeHTTP is the single decision point: substitute a pending reply, or
// forward and observe.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !inspected(r) {
		p.rp.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, p.MaxBody+1))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > p.MaxBody {
		// too large to inspect; pass through
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		observability.InterceptorRequests.WithLabelValues(r.URL.Path, "forwarded").Inc()
		p.rp.ServeHTTP(w, r)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	// recorded before the upstream answers, so /_interceptor/recent shows
	// requests that are still streaming
	req := ParseRequest(r.URL.Path, body)
	ex := Exchange{At: p.Now(), Endpoint: req.Endpoint, Model: req.Model, Prompt: req.Prompt, Stream: req.Stream, Origin: "proxy"}
	p.Ring.Add(ex)

	if reply, ok := p.pending(r.Context(), req.Prompt); ok {
		out, ct := SyntheticResponse(req, reply, p.Now())
		w.Header().Set("Content-Type", ct)
		w.Header().Set("X-Interceptor-Injected", "true")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
		observability.InterceptorRequests.WithLabelValues(req.Endpoint, "injected").Inc()
		log.Info().Str("endpoint", req.Endpoint).Str("model", req.Model).Msg("synthetic reply injected")

		ex.Response, ex.Injected = reply, true
		p.observe(r.Context(), ex)
		return
	}

	tee := &teeWriter{ResponseWriter: w, max: p.MaxBody}
	p.rp.ServeHTTP(tee, r)
	observability.InterceptorRequests.WithLabelValues(req.Endpoint, "forwarded").Inc()
	// errors and replies too large to reassemble are not worth classifying
	if tee.status() != http.StatusOK || tee.truncated {
		return
	}
	ex.Response = Reassemble(tee.buf.Bytes())
	p.observe(r.Context(), ex)
}

// pending consumes the injection queued for prompt, if any. Store errors
// degrade to forwarding.
func (p *Proxy) pending(ctx context.Context, prompt string) (string, bool) {
	if !p.Inject || p.Injections == nil || prompt == "" {
		return "", false
	}
	reply, ok, err := p.Injections.Take(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("pending injection lookup failed")
		return "", false
	}
	return reply, ok
}

// observe runs the Observer detached from the request context: the client
// may hang up as soon as its reply is complete.
func (p *Proxy) observe(reqCtx context.Context, ex Exchange) {
	if p.Observer == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), p.ObserveTimeout)
		defer cancel()
		p.Observer.Observe(ctx, ex)
	}()
}

// Wait blocks until in-flight Observer calls have returned.
func (p *Proxy) Wait() { p.wg.Wait() }

// teeWriter copies up to max bytes of the response while streaming it on.
type teeWriter struct {
	http.ResponseWriter
	buf       bytes.Buffer
	max       int64
	code      int
	truncated bool
}

func (t *teeWriter) WriteHeader(code int) {
	t.code = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *teeWriter) Write(b []byte) (int, error) {
	if t.code == 0 {
		t.code = http.StatusOK
	}
	if room := t.max - int64(t.buf.Len()); room > 0 {
		if int64(len(b)) > room {
			t.buf.Write(b[:room])
			t.truncated = true
		} else {
			t.buf.Write(b)
		}
	} else if len(b) > 0 {
		t.truncated = true
	}
	return t.ResponseWriter.Write(b)
}

// Flush keeps streaming working through the wrapper.
func (t *teeWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (t *teeWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }

func (t *teeWriter) status() int {
	if t.code == 0 {
		return http.StatusOK
	}
	return t.code
}
