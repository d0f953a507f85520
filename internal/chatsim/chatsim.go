// Package chatsim plays the difficult customer. It builds the persona prompt
// from the session's scenario and personality plus the menu, and streams the
// customer's next reply from an LLM provider.
package chatsim

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

var (
	// ErrExternal wraps every failure of the model backend.
	ErrExternal = errors.New("chatsim: external service error")

	// ErrEmptyTranscript is returned when a reply is requested for a
	// conversation with no turns.
	ErrEmptyTranscript = errors.New("chatsim: empty transcript")

	// ErrEmptyReply is returned when the model completed without producing
	// any text. It is always accompanied by [ErrExternal].
	ErrEmptyReply = errors.New("chatsim: empty reply")
)

// Persona is the fixed character of one session's customer.
type Persona struct {
	Personality string
	Scenario    string

	// EmployeeRole is the trainee's role ("Crew" or "Manager"). Empty omits
	// the role line from the prompt.
	EmployeeRole string
}

// Option configures a [Simulator].
type Option func(*Simulator)

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(s *Simulator) { s.temperature = t }
}

// WithMetrics records reply latency and outcome on m.
func WithMetrics(m *observe.Metrics, providerName string) Option {
	return func(s *Simulator) {
		s.metrics = m
		s.providerName = providerName
	}
}

// Simulator produces customer replies. It is stateless between calls and
// safe for concurrent use.
type Simulator struct {
	llm          llm.Provider
	menuJSON     string
	temperature  float64
	metrics      *observe.Metrics
	providerName string
}

// New returns a Simulator that embeds menuJSON in every persona prompt.
func New(p llm.Provider, menuJSON string, opts ...Option) *Simulator {
	s := &Simulator{llm: p, menuJSON: menuJSON}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SystemPrompt renders the persona instructions followed by the menu.
func (s *Simulator) SystemPrompt(p Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s customer at BurgerXpress. ", p.Personality)
	fmt.Fprintf(&b, "Your issue is: '%s'\n", p.Scenario)
	b.WriteString("React naturally with tone and behavior that matches your personality. ")
	b.WriteString("Use the menu to support your complaint. ")
	b.WriteString("If the situation escalates too much and the employee is crew, they should call a manager.\n")
	if p.EmployeeRole != "" {
		fmt.Fprintf(&b, "The employee you are speaking with is a %s.\n", strings.ToLower(p.EmployeeRole))
	}
	b.WriteString("Here is the menu data:\n\n")
	b.WriteString(s.menuJSON)
	return b.String()
}

// Messages maps the transcript onto chat roles: employee turns become user
// messages and customer turns become assistant messages.
func Messages(t types.Transcript) []types.Message {
	msgs := make([]types.Message, 0, len(t))
	for _, turn := range t {
		switch turn.Role {
		case types.RoleEmployee:
			msgs = append(msgs, types.Message{Role: "user", Content: turn.Content})
		case types.RoleCustomer:
			msgs = append(msgs, types.Message{Role: "assistant", Content: turn.Content})
		}
	}
	return msgs
}

// Reply streams the customer's answer to the conversation so far. Each
// fragment is passed to onFragment (which may be nil) as it arrives; the
// returned string is the complete reply. On any error no reply is returned.
func (s *Simulator) Reply(ctx context.Context, p Persona, t types.Transcript, onFragment func(string)) (string, error) {
	if len(t) == 0 {
		return "", ErrEmptyTranscript
	}

	start := time.Now()
	reply, err := s.reply(ctx, p, t, onFragment)
	if s.metrics != nil {
		s.metrics.RecordLLMDuration(ctx, "chat", time.Since(start))
		s.metrics.RecordProviderRequest(ctx, s.providerName, "llm", observe.Status(err))
		if err != nil {
			s.metrics.RecordProviderError(ctx, s.providerName, "llm")
		}
	}
	return reply, err
}

func (s *Simulator) reply(ctx context.Context, p Persona, t types.Transcript, onFragment func(string)) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: s.SystemPrompt(p),
		Messages:     Messages(t),
		Temperature:  s.temperature,
	}
	ch, err := s.llm.StreamCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chatsim: reply: %w: %w", ErrExternal, err)
	}
	reply, err := Accumulate(ctx, ch, onFragment)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("chatsim: reply: %w: %w", ErrExternal, ErrEmptyReply)
	}
	return reply, nil
}

// Accumulate concatenates chunk text in arrival order until ch is closed.
// A chunk with [llm.FinishReasonError] or a cancelled ctx aborts the
// accumulation with an [ErrExternal] error and an empty result.
func Accumulate(ctx context.Context, ch <-chan llm.Chunk, onFragment func(string)) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("chatsim: accumulate: %w: %w", ErrExternal, ctx.Err())
		case c, ok := <-ch:
			if !ok {
				// Providers may close the channel on cancellation without
				// reporting it.
				if err := ctx.Err(); err != nil {
					return "", fmt.Errorf("chatsim: accumulate: %w: %w", ErrExternal, err)
				}
				return b.String(), nil
			}
			if c.FinishReason == llm.FinishReasonError {
				return "", fmt.Errorf("chatsim: accumulate: %w: stream failed: %s", ErrExternal, c.Text)
			}
			if c.Text == "" {
				continue
			}
			b.WriteString(c.Text)
			if onFragment != nil {
				onFragment(c.Text)
			}
		}
	}
}
