// Package session holds the per-trainee state of the trainer and the
// [Controller] that moves it between states.
//
// A [Session] separates the visible [Page] from the conversation [Phase]:
// browsing the menu mid-conversation never loses the transcript, and the
// derived [State] is what the trainee sees at any moment.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/burgerxpress/internal/coaching"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// Greeting is the customer's opening line of every conversation.
const Greeting = "Hi, can I speak to someone about an issue with my order?"

var (
	// ErrInvalidTransition is returned when an action is not allowed in the
	// session's current state.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrEmptyInput is returned for blank employee messages.
	ErrEmptyInput = errors.New("session: empty input")

	// ErrInvalidRating is returned when a rating lies outside 1..5.
	ErrInvalidRating = errors.New("session: rating must be between 1 and 5")
)

// Page is a sidebar destination.
type Page string

const (
	PageMainMenu          Page = "Main Menu"
	PageInstructions      Page = "Instructions"
	PageStartConversation Page = "Start Conversation"
	PageShowMenu          Page = "Show Menu"
	PageServiceGuidelines Page = "Service Guidelines"
	PagePastConversations Page = "Past Conversations"
	PageGeneralFeedback   Page = "General Feedback"
	PageAnalytics         Page = "Analytics"
)

// Pages lists every page in sidebar order.
var Pages = []Page{
	PageMainMenu, PageInstructions, PageStartConversation, PageShowMenu,
	PageServiceGuidelines, PagePastConversations, PageGeneralFeedback, PageAnalytics,
}

// ParsePage returns the page named s.
func ParsePage(s string) (Page, bool) {
	for _, p := range Pages {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Phase is the progress of the current conversation, independent of the
// page on screen.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConversing
	PhasePendingExit
	PhaseReviewing
	PhaseSubmitted
)

// String implements [fmt.Stringer].
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConversing:
		return "conversing"
	case PhasePendingExit:
		return "pending_exit"
	case PhaseReviewing:
		return "reviewing"
	case PhaseSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is what the trainee is currently doing.
type State int

const (
	StateMainMenu State = iota
	StateBrowsing
	StateConversing
	StatePendingExit
	StateReviewingFeedback
	StateSubmitted
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateMainMenu:
		return "main_menu"
	case StateBrowsing:
		return "browsing"
	case StateConversing:
		return "conversing"
	case StatePendingExit:
		return "pending_exit"
	case StateReviewingFeedback:
		return "reviewing_feedback"
	case StateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Role is the trainee's job at the restaurant.
type Role string

const (
	RoleCrew    Role = "Crew"
	RoleManager Role = "Manager"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleCrew || r == RoleManager }

// Clip is the most recently synthesised customer line.
type Clip struct {
	Seq      int    `json:"seq"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// FeedbackForm is the trainee's answer to the post-conversation form.
type FeedbackForm struct {
	Rating   int    `json:"rating"`
	Comments string `json:"comments"`
	Issue    string `json:"issue"`
}

// FeedbackRecord is the submitted outcome of a conversation.
type FeedbackRecord struct {
	Scores      coaching.ScoreSet `json:"scores"`
	Summary     string            `json:"summary"`
	Rating      int               `json:"rating"`
	Comments    string            `json:"comments,omitempty"`
	Issue       string            `json:"issue,omitempty"`
	Filename    string            `json:"filename"`
	Link        string            `json:"link,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Session is the complete state of one trainee. It is a plain value so
// that stores can serialise it; only the [Controller] mutates it.
type Session struct {
	ID          string           `json:"id"`
	Page        Page             `json:"page"`
	Phase       Phase            `json:"phase"`
	Role        Role             `json:"role"`
	TestingMode bool             `json:"testing_mode"`
	Scenario    string           `json:"scenario,omitempty"`
	Personality string           `json:"personality,omitempty"`
	Transcript  types.Transcript `json:"transcript"`
	Coaching    *coaching.Result `json:"coaching,omitempty"`
	Feedback    *FeedbackRecord  `json:"feedback,omitempty"`
	LastClip    *Clip            `json:"last_clip,omitempty"`
	Notices     []string         `json:"notices,omitempty"`

	// FeedbackOpenedAt is when the general-feedback page was first shown.
	FeedbackOpenedAt time.Time `json:"feedback_opened_at,omitzero"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh session on the main menu.
func New(id string) *Session {
	return &Session{
		ID:         id,
		Page:       PageMainMenu,
		Role:       RoleCrew,
		Transcript: types.Transcript{},
	}
}

// State derives the visible state from page and phase.
func (s *Session) State() State {
	if s.Page == PageStartConversation {
		switch s.Phase {
		case PhaseConversing:
			return StateConversing
		case PhasePendingExit:
			return StatePendingExit
		case PhaseReviewing:
			return StateReviewingFeedback
		case PhaseSubmitted:
			return StateSubmitted
		}
	}
	if s.Page == PageMainMenu || s.Page == "" {
		return StateMainMenu
	}
	return StateBrowsing
}

// Notify queues a message for the trainee.
func (s *Session) Notify(format string, args ...any) {
	s.Notices = append(s.Notices, fmt.Sprintf(format, args...))
}

// TakeNotices returns and clears the queued notices.
func (s *Session) TakeNotices() []string {
	n := s.Notices
	s.Notices = nil
	return n
}

// reset drops all conversation data, keeping identity and preferences.
func (s *Session) reset() {
	*s = Session{
		ID:               s.ID,
		Page:             PageMainMenu,
		Role:             s.Role,
		TestingMode:      s.TestingMode,
		Transcript:       types.Transcript{},
		Notices:          s.Notices,
		FeedbackOpenedAt: s.FeedbackOpenedAt,
	}
}

// CheckMessage reports whether text may be submitted as the next employee
// line: the session must be conversing and text must not be blank.
func (s *Session) CheckMessage(text string) error {
	if s.Phase != PhaseConversing {
		return invalid(s, "submit message")
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	return nil
}

func invalid(s *Session, action string) error {
	return fmt.Errorf("session: %s in state %s (phase %s): %w", action, s.State(), s.Phase, ErrInvalidTransition)
}
