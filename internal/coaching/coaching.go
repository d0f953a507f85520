// Package coaching grades a finished role-play conversation. The model is
// asked for bullet-point feedback followed by a fixed "=== Scores ==="
// trailer, and the trailer is parsed strictly into a [ScoreSet].
package coaching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// ErrExternal wraps failures of the model backend.
var ErrExternal = errors.New("coaching: external service error")

const (
	// MinTurns is the shortest transcript worth sending to the model.
	MinTurns = 3

	// ShortSummary is the summary used for transcripts below [MinTurns].
	ShortSummary = "Conversation was too short to generate useful coaching feedback."

	// NotApplicable is the score value used when no grade exists.
	NotApplicable = "N/A"

	// ScoresHeader separates the feedback text from the score trailer.
	ScoresHeader = "=== Scores ==="
)

// Category is one graded dimension.
type Category string

const (
	RuleCompliance     Category = "Rule Compliance"
	EscalationHandling Category = "Escalation Handling"
	Professionalism    Category = "Professionalism"
	Clarity            Category = "Clarity"
)

// Categories lists every category in display order.
var Categories = []Category{RuleCompliance, EscalationHandling, Professionalism, Clarity}

// ScoreSet holds one value per category: an integer 1-5 or one of "Pass",
// "Fail", "N/A", kept as text.
type ScoreSet struct {
	RuleCompliance     string `json:"rule_compliance"`
	EscalationHandling string `json:"escalation_handling"`
	Professionalism    string `json:"professionalism"`
	Clarity            string `json:"clarity"`
}

// NAScores returns a ScoreSet with every category set to N/A.
func NAScores() ScoreSet {
	return ScoreSet{
		RuleCompliance:     NotApplicable,
		EscalationHandling: NotApplicable,
		Professionalism:    NotApplicable,
		Clarity:            NotApplicable,
	}
}

// Get returns the value for c.
func (s ScoreSet) Get(c Category) string {
	switch c {
	case RuleCompliance:
		return s.RuleCompliance
	case EscalationHandling:
		return s.EscalationHandling
	case Professionalism:
		return s.Professionalism
	case Clarity:
		return s.Clarity
	}
	return ""
}

// Set assigns v to category c. Unknown categories are ignored.
func (s *ScoreSet) Set(c Category, v string) {
	switch c {
	case RuleCompliance:
		s.RuleCompliance = v
	case EscalationHandling:
		s.EscalationHandling = v
	case Professionalism:
		s.Professionalism = v
	case Clarity:
		s.Clarity = v
	}
}

// Values returns the scores in [Categories] order.
func (s ScoreSet) Values() []string {
	out := make([]string, len(Categories))
	for i, c := range Categories {
		out[i] = s.Get(c)
	}
	return out
}

// Result is the outcome of one coaching run.
type Result struct {
	Summary string   `json:"summary"`
	Scores  ScoreSet `json:"scores"`
}

// ParseError reports a coaching response whose score trailer does not match
// the expected schema.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "coaching: parse response: " + e.Reason
}

// ParseResponse splits raw at the first [ScoresHeader] and parses the
// trailer. Every category must appear exactly once with a non-empty value
// and no other key may appear.
func ParseResponse(raw string) (Result, error) {
	head, trailer, found := strings.Cut(raw, ScoresHeader)
	if !found {
		return Result{}, &ParseError{Reason: "missing " + ScoresHeader, Raw: raw}
	}

	var (
		scores ScoreSet
		seen   = make(map[Category]bool, len(Categories))
	)
	for line := range strings.Lines(trailer) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return Result{}, &ParseError{Reason: fmt.Sprintf("line %q has no ':'", line), Raw: raw}
		}
		key = cleanKey(key)
		val = strings.TrimSpace(strings.Trim(strings.TrimSpace(val), "*"))

		cat, ok := LookupCategory(key)
		if !ok {
			return Result{}, &ParseError{Reason: fmt.Sprintf("unknown category %q", key), Raw: raw}
		}
		if seen[cat] {
			return Result{}, &ParseError{Reason: fmt.Sprintf("duplicate category %q", cat), Raw: raw}
		}
		if val == "" {
			return Result{}, &ParseError{Reason: fmt.Sprintf("empty value for %q", cat), Raw: raw}
		}
		seen[cat] = true
		scores.Set(cat, val)
	}

	var missing []string
	for _, c := range Categories {
		if !seen[c] {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return Result{}, &ParseError{Reason: "missing categories: " + strings.Join(missing, ", "), Raw: raw}
	}

	return Result{Summary: strings.TrimSpace(head), Scores: scores}, nil
}

// cleanKey strips list bullets and bold markers around a trailer key.
func cleanKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.TrimLeft(key, "-*• ")
	key = strings.Trim(key, "* ")
	return key
}

// LookupCategory matches key against the category names, ignoring case.
func LookupCategory(key string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(key, string(c)) {
			return c, true
		}
	}
	return "", false
}

const promptHead = "You are a customer service coach analyzing a spoken conversation between an employee and a customer. " +
	"Focus on the employee's professionalism, clarity, tone, and escalation decisions, not grammar or punctuation. " +
	"The employee is speaking, not writing.\n\n" +
	"Return coaching feedback as a bullet-pointed list. Each point should be clear and reference the employee's actions or language. " +
	"Include one point per score category, with explanation and the score at the end like this:\n" +
	"- **Rule Compliance**: [explanation] (Score: 4/5)\n" +
	"- **Escalation Handling**: [explanation] (Score: Pass)\n" +
	"- **Professionalism**: [explanation] (Score: 3/5)\n" +
	"- **Clarity**: [explanation] (Score: 5/5)\n\n" +
	"At the end of your feedback, include a clear breakdown of the scores again, exactly like this:\n\n" +
	ScoresHeader + "\n" +
	"Rule Compliance: 4\n" +
	"Escalation Handling: Pass\n" +
	"Professionalism: 3\n" +
	"Clarity: 5\n\n" +
	"Here is the conversation:\n"

// Prompt renders the coaching instructions followed by the transcript.
func Prompt(t types.Transcript) string {
	return promptHead + strings.Join(t.Lines(), "\n")
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMetrics records coaching latency and outcomes on m.
func WithMetrics(m *observe.Metrics, providerName string) Option {
	return func(e *Engine) {
		e.metrics = m
		e.providerName = providerName
	}
}

// Engine runs coaching requests against an LLM provider.
type Engine struct {
	llm          llm.Provider
	metrics      *observe.Metrics
	providerName string
}

// New returns an Engine backed by p.
func New(p llm.Provider, opts ...Option) *Engine {
	e := &Engine{llm: p}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Coach grades t. Transcripts shorter than [MinTurns] yield the short
// summary without a model call. When the reply cannot be parsed, Coach
// returns a fallback Result (raw reply as summary, all scores N/A) together
// with a [*ParseError]. Model failures return [ErrExternal] and a zero Result.
func (e *Engine) Coach(ctx context.Context, t types.Transcript) (Result, error) {
	if len(t) < MinTurns {
		e.outcome(ctx, "short")
		return Result{Summary: ShortSummary, Scores: NAScores()}, nil
	}

	start := time.Now()
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{SystemPrompt: Prompt(t)})
	if e.metrics != nil {
		e.metrics.RecordLLMDuration(ctx, "coaching", time.Since(start))
		e.metrics.RecordProviderRequest(ctx, e.providerName, "llm", observe.Status(err))
		if err != nil {
			e.metrics.RecordProviderError(ctx, e.providerName, "llm")
		}
	}
	if err != nil {
		e.outcome(ctx, "error")
		return Result{}, fmt.Errorf("coaching: complete: %w: %w", ErrExternal, err)
	}
	if resp == nil {
		e.outcome(ctx, "error")
		return Result{}, fmt.Errorf("coaching: complete: %w: no response", ErrExternal)
	}

	raw := strings.TrimSpace(resp.Content)
	res, err := ParseResponse(raw)
	if err != nil {
		e.outcome(ctx, "fallback")
		return Result{Summary: raw, Scores: NAScores()}, err
	}
	e.outcome(ctx, "scored")
	return res, nil
}

func (e *Engine) outcome(ctx context.Context, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordCoachingResult(ctx, outcome)
	}
}
