// Package services – Agent
//
// This file implements the conversation pipeline shared by the chat API, the
// direct publish endpoint, the passive interceptor and the one-shot CLI
// commands. A Conversation walks an explicit state machine:
//
//	LISTENING -> ANALYZING -> FETCHING_FORM -> PUBLISHING -> RESPONDING
//
// Any step may divert to ERROR, which is terminal. The pipeline never returns
// an error to its caller; the final state, the reply text and the publish
// result are all carried on the Conversation so transports can render them.
//
// Side effects after a successful registration (notifications, the audit
// record) are best effort: their failures are logged and never turn a
// publish into a failure.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/domain"
	"github.com/tbourn/go-publish-agent/internal/intent"
	"github.com/tbourn/go-publish-agent/internal/observability"
	"github.com/tbourn/go-publish-agent/internal/registry"
)

// State is a step of the conversation pipeline.
type State string

const (
	// StateListening is the initial state of every conversation.
	StateListening State = "LISTENING"
	// StateAnalyzing runs intent classification on the input.
	StateAnalyzing State = "ANALYZING"
	// StateFetchingForm loads the form and resolves its fingerprint.
	StateFetchingForm State = "FETCHING_FORM"
	// StatePublishing registers the public link with the registry.
	StatePublishing State = "PUBLISHING"
	// StateResponding has a reply ready; terminal.
	StateResponding State = "RESPONDING"
	// StateError has an error reply ready; terminal.
	StateError State = "ERROR"
)

// transitions lists the legal successors of each state. ERROR is reachable
// from every non-terminal state and is itself terminal. LISTENING may skip
// analysis when the caller already names the form.
var transitions = map[State][]State{
	StateListening:    {StateAnalyzing, StateFetchingForm},
	StateAnalyzing:    {StateFetchingForm, StateResponding},
	StateFetchingForm: {StatePublishing},
	StatePublishing:   {StateResponding},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if from == StateError || from == StateResponding {
		return false
	}
	if to == StateError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Trigger sources, used for audit records and metrics.
const (
	SourceChat    = "chat"
	SourceAPI     = "api"
	SourcePassive = "passive"
)

// Conversation is the per-request pipeline record. It is created by the
// agent, filled in step by step and discarded once the reply is sent.
type Conversation struct {
	Input         string               `json:"input"`
	Source        string               `json:"source"`
	State         State                `json:"state"`
	Trail         []State              `json:"trail"`
	Intent        intent.Result        `json:"intent"`
	FormID        string               `json:"form_id,omitempty"`
	Fingerprint   string               `json:"json_fingerprint,omitempty"`
	Form          *domain.Form         `json:"-"`
	Publish       *registry.Result     `json:"publish_result,omitempty"`
	Notifications *NotificationSummary `json:"notifications,omitempty"`
	Response      string               `json:"response"`
	Err           error                `json:"-"`
}

// Published reports whether the registry accepted the form.
func (c *Conversation) Published() bool { return c.Publish != nil && c.Publish.Success }

// Error returns the failure text, or "".
func (c *Conversation) Error() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// advance moves to the next state. An illegal step is a programming error
// and ends the conversation in ERROR instead of panicking.
func (c *Conversation) advance(to State) {
	if !CanTransition(c.State, to) {
		c.fail(fmt.Errorf("illegal transition %s -> %s", c.State, to))
		return
	}
	c.State = to
	c.Trail = append(c.Trail, to)
}

// fail records the first error and enters ERROR once.
func (c *Conversation) fail(err error) {
	if c.Err == nil {
		c.Err = err
	}
	if c.State != StateError {
		c.State = StateError
		c.Trail = append(c.Trail, StateError)
	}
}

// IntentClassifier is the classifier contract used by Agent.
type IntentClassifier interface {
	Analyze(ctx context.Context, text string) intent.Result
}

// FormSource resolves forms and fingerprints.
type FormSource interface {
	Get(ctx context.Context, id string) (*domain.Form, error)
	FingerprintOf(ctx context.Context, f *domain.Form) (string, error)
}

// Publisher registers public URLs.
type Publisher interface {
	Register(ctx context.Context, formID, fingerprint string) registry.Result
}

// Notifier creates notifications after a successful publish.
type Notifier interface {
	Notify(ctx context.Context, form *domain.Form, prompt string, pub registry.Result) (NotificationSummary, error)
}

// AuditRepo persists publication audit records.
type AuditRepo interface {
	CreateAudit(ctx context.Context, db *gorm.DB, a *domain.PublicationAudit) error
}

// Agent runs the conversation pipeline:
//
//	classify -> fetch form -> publish -> notify -> reply
//
// with every failure converging on a single error reply. Process and Publish
// never return an error; the outcome is carried by the Conversation.
type Agent struct {
	Classifier IntentClassifier
	Forms      FormSource
	Registry   Publisher

	// Optional collaborators. A nil LLM means templated replies only.
	Notifier Notifier
	LLM      intent.Generator
	Audit    AuditRepo
	DB       *gorm.DB

	// MaxInputLen caps chat input in runes; zero disables the check.
	MaxInputLen int
}

// NoIntentReply is used when no publish intent was found and the model
// could not compose a reply.
const NoIntentReply = "I'm here to help you publish forms to the blockchain. Just say 'publish form [form_id]' when you're ready!"

const (
	assistantSystem = "You are a helpful AI assistant for form publishing. Be friendly and offer guidance."
	errorSystem     = "You are a helpful AI assistant. Generate clear, concise, and user-friendly messages. Be encouraging and professional."
)

// ValidateInput checks a chat message before it enters the pipeline.
func (a *Agent) ValidateInput(input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyMessage
	}
	if a.MaxInputLen > 0 && utf8.RuneCountInString(input) > a.MaxInputLen {
		return ErrMessageTooLong
	}
	return nil
}

// Process classifies input and, on publish intent with a resolvable form id,
// publishes that form.
func (a *Agent) Process(ctx context.Context, input, source string) (conv *Conversation) {
	conv = newConversation(input, source)
	ctx, span := otel.Tracer("services/agent").Start(ctx, "Process",
		trace.WithAttributes(attribute.String("source", source)))
	defer span.End()
	defer a.guard(ctx, conv)

	conv.advance(StateAnalyzing)
	conv.Intent = a.Classifier.Analyze(ctx, input)
	log.Info().Bool("wants_to_publish", conv.Intent.WantsToPublish).Str("form_id", conv.Intent.FormID).
		Float64("confidence", conv.Intent.Confidence).Str("state", string(conv.State)).Msg("intent analyzed")

	switch {
	case !conv.Intent.WantsToPublish:
		conv.advance(StateResponding)
		conv.Response = a.compose(ctx, assistantSystem,
			fmt.Sprintf("The user said: '%s'. This doesn't appear to be a request to publish a form. Respond helpfully and ask if they need help with form publishing.", input),
			NoIntentReply)
	case conv.Intent.FormID == "":
		conv.fail(ErrFormIDRequired)
	default:
		conv.FormID = conv.Intent.FormID
		conv.advance(StateFetchingForm)
		a.publish(ctx, conv)
	}
	a.finish(ctx, conv)
	span.SetAttributes(attribute.String("state", string(conv.State)))
	return conv
}

// Publish runs the pipeline for a known form id, skipping classification.
// prompt is kept for notifications and auditing.
func (a *Agent) Publish(ctx context.Context, formID, prompt, source string) (conv *Conversation) {
	if prompt == "" {
		prompt = "publish form " + formID
	}
	conv = newConversation(prompt, source)
	ctx, span := otel.Tracer("services/agent").Start(ctx, "Publish",
		trace.WithAttributes(attribute.String("form.id", formID), attribute.String("source", source)))
	defer span.End()
	defer a.guard(ctx, conv)

	conv.FormID = strings.TrimSpace(formID)
	conv.Intent = intent.Result{WantsToPublish: true, FormID: conv.FormID, Confidence: 1, ExtractedInfo: "direct publish request"}
	if conv.FormID == "" {
		conv.fail(ErrFormIDRequired)
	} else {
		conv.advance(StateFetchingForm)
		a.publish(ctx, conv)
	}
	a.finish(ctx, conv)
	return conv
}

// newConversation starts in LISTENING; an empty source means chat.
func newConversation(input, source string) *Conversation {
	if source == "" {
		source = SourceChat
	}
	return &Conversation{Input: input, Source: source, State: StateListening, Trail: []State{StateListening}}
}

// publish runs FETCHING_FORM -> PUBLISHING -> RESPONDING.
func (a *Agent) publish(ctx context.Context, conv *Conversation) {
	form, err := a.Forms.Get(ctx, conv.FormID)
	if err != nil {
		if errors.Is(err, ErrFormNotFound) {
			err = fmt.Errorf("%w: no form with id %s", ErrFormNotFound, conv.FormID)
		}
		conv.fail(err)
		return
	}
	conv.Form = form
	fp, err := a.Forms.FingerprintOf(ctx, form)
	if err != nil || fp == "" {
		conv.fail(fmt.Errorf("%w for form %s", ErrFingerprintNotFound, conv.FormID))
		return
	}
	conv.Fingerprint = fp

	// a registry rejection is the only failure after this point
	conv.advance(StatePublishing)
	res := a.Registry.Register(ctx, conv.FormID, fp)
	conv.Publish = &res
	if !res.Success {
		observability.PublishAttempts.WithLabelValues(conv.Source, "failure").Inc()
		conv.fail(fmt.Errorf("%w: %s", ErrPublishFailed, res.Error))
		return
	}
	observability.PublishAttempts.WithLabelValues(conv.Source, "success").Inc()

	a.notify(ctx, conv)
	a.audit(ctx, conv)

	conv.advance(StateResponding)
	conv.Response = SuccessReply(conv.FormID, res.URL, res.TransactionHash, conv.Input)
}

// notify failures never change the publish outcome.
func (a *Agent) notify(ctx context.Context, conv *Conversation) {
	if a.Notifier == nil {
		return
	}
	sum, err := a.Notifier.Notify(ctx, conv.Form, conv.Input, *conv.Publish)
	if err != nil {
		log.Error().Err(err).Str("form_id", conv.FormID).Msg("notification fan-out failed")
		return
	}
	if sum.Created > 0 {
		conv.Notifications = &sum
	} else if len(sum.GroupsMentioned) > 0 {
		log.Warn().Str("form_id", conv.FormID).Strs("aliases", sum.GroupsMentioned).Msg("no notifications created for mentioned groups")
	}
}

// audit records a successful publish. Passive publishes are flagged as
// automatic so they can be told apart from explicit requests.
func (a *Agent) audit(ctx context.Context, conv *Conversation) {
	if a.Audit == nil {
		return
	}
	rec := &domain.PublicationAudit{
		FormID:          conv.FormID,
		OriginalPrompt:  conv.Input,
		PublicURL:       conv.Publish.URL,
		TransactionHash: conv.Publish.TransactionHash,
		BlockNumber:     conv.Publish.BlockNumber,
		GasUsed:         conv.Publish.GasUsed,
		AutoPublished:   conv.Source == SourcePassive,
		Source:          conv.Source,
	}
	if err := a.Audit.CreateAudit(ctx, a.DB, rec); err != nil {
		log.Warn().Err(err).Str("form_id", conv.FormID).Msg("publication audit write failed")
	}
}

// finish composes the error reply for failed conversations.
func (a *Agent) finish(ctx context.Context, conv *Conversation) {
	if conv.State != StateError {
		return
	}
	id := conv.FormID
	if id == "" {
		id = "unknown"
	}
	log.Warn().Err(conv.Err).Str("form_id", id).Str("source", conv.Source).Msg("pipeline ended in error")
	conv.Response = a.compose(ctx, errorSystem,
		fmt.Sprintf("Generate a helpful error message explaining that form %s could not be published. Error: %s. Suggest possible solutions.", id, conv.Error()),
		ErrorReply(id, conv.Err))
}

// guard converts a panic in any step into the ERROR state.
func (a *Agent) guard(_ context.Context, conv *Conversation) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Str("state", string(conv.State)).Msg("pipeline panic")
		conv.fail(fmt.Errorf("internal error: %v", r))
		id := conv.FormID
		if id == "" {
			id = "unknown"
		}
		conv.Response = ErrorReply(id, conv.Err)
	}
}

// compose asks the model for a reply and falls back to the template when the
// model is missing, failing or silent.
func (a *Agent) compose(ctx context.Context, system, prompt, fallback string) string {
	if a.LLM == nil {
		return fallback
	}
	out, err := a.LLM.Generate(ctx, system, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			log.Debug().Err(err).Msg("reply composition unavailable")
		}
		return fallback
	}
	return out
}

// OperationVerb picks the wording of the success reply from the user's phrasing.
func OperationVerb(input string) string {
	in := strings.ToLower(input)
	switch {
	case strings.Contains(in, "deploy"):
		return "deployed"
	case strings.Contains(in, "register"):
		return "registered"
	case strings.Contains(in, "send"):
		return "sent"
	default:
		return "published"
	}
}

// SuccessReply is the templated confirmation for a published form.
func SuccessReply(formID, publicURL, txHash, input string) string {
	return fmt.Sprintf(`✅ Form %s has been successfully %s to the blockchain!

🔗 Your form is now available at the public URL and verified on the blockchain.

📋 Form ID: %s
🎯 Status: Published
⛓️ Blockchain: Verified
🌐 Public URL: %s
🔖 Transaction Hash: %s

🎉 Your form is now immutably stored and publicly accessible!`, formID, OperationVerb(input), formID, publicURL, txHash)
}

// ErrorReply is the templated failure message.
func ErrorReply(formID string, err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return fmt.Sprintf("❌ Failed to publish form %s. Error: %s", formID, msg)
}
