// Package intent decides whether free text asks for a form to be published
// and, if so, which form.
//
// The model is asked for a strict JSON verdict. When the model is down, or
// answers with something that is not JSON, lexical heuristics take over so a
// caller never blocks on classifier availability.
package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-publish-agent/internal/observability"
)

// Confidence assigned by the fallback paths.
const (
	ConfidenceKeywordHit  = 0.7 // unparsable model answer, keyword present
	ConfidenceKeywordMiss = 0.3 // unparsable model answer, no keyword
	ConfidenceUnavailable = 0.5 // model call failed
)

// Method names the path that produced a Result.
type Method string

const (
	MethodLLM            Method = "llm"
	MethodParseFallback  Method = "parse_fallback"
	MethodLLMUnavailable Method = "llm_unavailable"
	MethodError          Method = "error"
)

// Result is the classifier verdict.
type Result struct {
	WantsToPublish bool    `json:"wants_to_publish"`
	FormID         string  `json:"form_id,omitempty"`
	Confidence     float64 `json:"confidence"`
	ExtractedInfo  string  `json:"extracted_info"`
	Method         Method  `json:"-"`
}

// Generator is the slice of the LLM client the classifier needs.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Classifier turns text into a Result. The zero value is usable and relies
// on heuristics alone.
type Classifier struct {
	LLM      Generator
	Keywords []string // lower-case publish triggers
}

// DefaultKeywords is used when Classifier.Keywords is empty.
var DefaultKeywords = []string{"publish", "deploy", "register"}

const systemPrompt = `You are a JSON-only response AI. You MUST respond with valid JSON only, no other text.

Analyze user requests for publishing forms to blockchain and respond with this exact JSON structure:

{
  "wants_to_publish": boolean,
  "form_id": "string or null",
  "confidence": 0.8,
  "extracted_info": "brief description"
}

Keywords indicating publishing: publish, deploy, register, submit, upload, share, make public

Example inputs and responses:
- "publish form abc123" -> {"wants_to_publish": true, "form_id": "abc123", "confidence": 0.9, "extracted_info": "User wants to publish form abc123"}
- "hello" -> {"wants_to_publish": false, "form_id": null, "confidence": 0.1, "extracted_info": "General greeting, no publish intent"}

RESPOND ONLY WITH VALID JSON.`

// Analyze classifies text. It never returns an error; a panic anywhere in
// the analysis yields a zero-confidence negative result.
func (c *Classifier) Analyze(ctx context.Context, text string) (res Result) {
	ctx, span := otel.Tracer("intent").Start(ctx, "Analyze",
		trace.WithAttributes(attribute.Int("intent.text_len", len(text))))
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("intent analysis failed")
			res = Result{Confidence: 0, ExtractedInfo: fmt.Sprintf("Error: %v", r), Method: MethodError}
		}
		observability.IntentClassifications.WithLabelValues(string(res.Method)).Inc()
		span.SetAttributes(
			attribute.Bool("intent.wants_to_publish", res.WantsToPublish),
			attribute.String("intent.method", string(res.Method)),
		)
		span.End()
	}()

	if c.LLM == nil {
		return c.heuristic(text, ConfidenceUnavailable, "Fallback analysis - model unavailable", MethodLLMUnavailable)
	}

	answer, err := c.LLM.Generate(ctx, systemPrompt, fmt.Sprintf("Analyze: '%s'", text))
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			log.Warn().Err(err).Msg("intent model call failed; using heuristics")
		}
		return c.heuristic(text, ConfidenceUnavailable, "Fallback analysis - model unavailable", MethodLLMUnavailable)
	}

	obj, ok := ExtractJSONObject(answer)
	if !ok {
		log.Warn().Str("answer", truncate(answer, 200)).Msg("intent model answer is not JSON; using heuristics")
		conf := ConfidenceKeywordMiss
		if c.ContainsKeyword(text) {
			conf = ConfidenceKeywordHit
		}
		return c.heuristic(text, conf, "Fallback analysis - JSON parsing failed", MethodParseFallback)
	}

	res = Result{
		WantsToPublish: obj.Get("wants_to_publish").Bool(),
		FormID:         formIDValue(obj.Get("form_id")),
		Confidence:     clamp01(obj.Get("confidence").Float()),
		ExtractedInfo:  obj.Get("extracted_info").String(),
		Method:         MethodLLM,
	}
	if res.FormID == "" {
		res.FormID = ExtractFormID(text)
	}
	log.Debug().Bool("wants_to_publish", res.WantsToPublish).Str("form_id", res.FormID).
		Float64("confidence", res.Confidence).Msg("intent analysed")
	return res
}

func (c *Classifier) heuristic(text string, conf float64, info string, m Method) Result {
	return Result{
		WantsToPublish: c.ContainsKeyword(text),
		FormID:         ExtractFormID(text),
		Confidence:     conf,
		ExtractedInfo:  info,
		Method:         m,
	}
}

// ContainsKeyword reports whether text contains any publish keyword.
func (c *Classifier) ContainsKeyword(text string) bool {
	return ContainsAny(text, c.keywords())
}

func (c *Classifier) keywords() []string {
	if len(c.Keywords) == 0 {
		return DefaultKeywords
	}
	return c.Keywords
}

// ContainsAny is a case-insensitive substring test against each keyword.
func ContainsAny(text string, keywords []string) bool {
	low := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(low, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// ExtractJSONObject strips markdown code fences and returns the first
// balanced {...} span. When no balanced span exists it tries the widest span
// between the first '{' and the last '}'.
func ExtractJSONObject(s string) (gjson.Result, bool) {
	s = stripFences(s)
	if span := firstBalancedObject(s); span != "" && gjson.Valid(span) {
		return gjson.Parse(span), true
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start >= 0 && end > start && gjson.Valid(s[start:end+1]) {
		return gjson.Parse(s[start : end+1]), true
	}
	return gjson.Result{}, false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	return strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
}

// firstBalancedObject scans for the first top-level {...}, skipping braces
// inside string literals.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func formIDValue(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	case gjson.Number:
		return v.Raw
	default:
		return ""
	}
}

var (
	uuidPattern     = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	objectIDPattern = regexp.MustCompile(`[0-9a-fA-F]{24}`)
)

// anchors are words after which a form id usually follows. Multi-word
// phrases such as "form id", "form #", "document id" end in one of them.
var anchors = map[string]struct{}{
	"form": {}, "id": {}, "formid": {}, "form_id": {}, "number": {}, "#": {},
}

const minAnchoredIDLen = 6

// ExtractFormID finds a form identifier in free text. The first token longer
// than five characters that follows an anchor word wins; otherwise the first
// UUID, then the first 24-hex object id anywhere in the text.
func ExtractFormID(text string) string {
	words := strings.Fields(text)
	for i := 0; i+1 < len(words); i++ {
		w := strings.ToLower(strings.Trim(words[i], ".,!?:;"))
		if _, ok := anchors[w]; !ok {
			continue
		}
		cand := strings.TrimLeft(strings.Trim(words[i+1], ".,!?:;"), "#")
		if _, isAnchor := anchors[strings.ToLower(cand)]; isAnchor {
			continue
		}
		if len(cand) >= minAnchoredIDLen {
			return cand
		}
	}
	if m := uuidPattern.FindString(text); m != "" {
		return m
	}
	return objectIDPattern.FindString(text)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
