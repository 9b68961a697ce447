// Package interceptor – Watcher
//
// Watcher is the Observer that acts on intercepted exchanges. It drops
// duplicates and exchanges the agent itself injected, screens prompts by
// keyword before paying for classification, publishes through the shared
// agent and, on success, queues the confirmation as an injection for the
// user's next matching prompt.
package interceptor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-publish-agent/internal/intent"
	"github.com/tbourn/go-publish-agent/internal/services"
)

// Publisher runs the publish pipeline for a known form.
type Publisher interface {
	Publish(ctx context.Context, formID, prompt, source string) *services.Conversation
}

// Outcome describes what the Watcher did with one exchange.
type Outcome struct {
	Skipped      string                 `json:"skipped,omitempty"`
	Intent       *intent.Result         `json:"intent,omitempty"`
	Conversation *services.Conversation `json:"conversation,omitempty"`
	Cached       bool                   `json:"cached"`
}

// Watcher is the Observer that publishes forms requested in passing
// conversation. Only the prompt is classified; the model's answer often
// contains refusal wording that would skew the verdict.
type Watcher struct {
	Classifier services.IntentClassifier
	Publisher  Publisher
	Injections InjectionStore
	Seen       SeenSet
	Keywords   []string
}

// Observe implements Observer.
func (w *Watcher) Observe(ctx context.Context, ex Exchange) { _ = w.Handle(ctx, ex) }

// Handle processes one exchange and reports the outcome.
func (w *Watcher) Handle(ctx context.Context, ex Exchange) Outcome {
	lg := log.With().Str("origin", ex.Origin).Str("endpoint", ex.Endpoint).Logger()

	if ex.Injected {
		lg.Info().Msg("synthetic reply delivered")
		return Outcome{Skipped: "injected"}
	}
	if ex.Prompt == "" {
		return Outcome{Skipped: "empty prompt"}
	}
	if w.Seen != nil {
		at := ex.At
		if at.IsZero() {
			at = time.Now()
		}
		dup, err := w.Seen.MarkSeen(ctx, ExchangeKey(ex.Prompt, ex.Response, at))
		if err != nil {
			lg.Warn().Err(err).Msg("dedup check failed; processing anyway")
		} else if dup {
			return Outcome{Skipped: "duplicate"}
		}
	}
	if !intent.ContainsAny(ex.Prompt, w.keywords()) {
		return Outcome{Skipped: "no keyword"}
	}

	res := w.Classifier.Analyze(ctx, ex.Prompt)
	out := Outcome{Intent: &res}
	if !res.WantsToPublish {
		out.Skipped = "no publish intent"
		return out
	}
	if res.FormID == "" {
		lg.Warn().Msg("publish intent without form id")
		out.Skipped = "no form id"
		return out
	}

	lg.Info().Str("form_id", res.FormID).Float64("confidence", res.Confidence).Msg("publish intent detected in conversation")
	conv := w.Publisher.Publish(ctx, res.FormID, ex.Prompt, services.SourcePassive)
	out.Conversation = conv
	if !conv.Published() {
		lg.Warn().Str("form_id", res.FormID).Err(conv.Err).Msg("passive publish failed")
		return out
	}
	if w.Injections != nil {
		if err := w.Injections.Put(ctx, ex.Prompt, conv.Response); err != nil {
			lg.Warn().Err(err).Msg("could not store synthetic reply")
		} else {
			out.Cached = true
		}
	}
	lg.Info().Str("form_id", res.FormID).Str("tx_hash", conv.Publish.TransactionHash).Msg("form published from conversation")
	return out
}

func (w *Watcher) keywords() []string {
	if len(w.Keywords) == 0 {
		return intent.DefaultKeywords
	}
	return w.Keywords
}
