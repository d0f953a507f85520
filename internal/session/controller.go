package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/burgerxpress/internal/chatsim"
	"github.com/MrWong99/burgerxpress/internal/coaching"
	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/internal/speech"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// Catalog supplies the scenario and personality pools.
type Catalog interface {
	Scenarios() []string
	Personalities() []string
}

// Replier produces the simulated customer's next line.
type Replier interface {
	Reply(ctx context.Context, p chatsim.Persona, t types.Transcript, onFragment func(string)) (string, error)
}

// Coach grades a finished conversation.
type Coach interface {
	Coach(ctx context.Context, t types.Transcript) (coaching.Result, error)
}

// Speaker renders customer lines as audio.
type Speaker interface {
	Render(ctx context.Context, text string) (speech.Clip, error)
}

// Listener turns recorded employee audio into text.
type Listener interface {
	Transcribe(ctx context.Context, clip speech.Clip) (string, error)
}

// Archiver indexes newly uploaded transcripts for search.
type Archiver interface {
	Backfill(ctx context.Context, gw persistence.Gateway, folderID string, parallel int) (int, error)
}

// Config carries the controller's required collaborators.
type Config struct {
	Catalog Catalog
	Chat    Replier
	Coach   Coach
	Gateway persistence.Gateway

	// ConversationsFolder receives transcripts and general-feedback files.
	ConversationsFolder string

	// LocalDir receives the local copy of every submitted file.
	LocalDir string

	// DeveloperPassword enables testing mode. Empty disables the gate.
	DeveloperPassword string
}

// Option configures a [Controller].
type Option func(*Controller)

// WithSpeaker voices customer lines through sp.
func WithSpeaker(sp Speaker) Option {
	return func(c *Controller) { c.speaker = sp }
}

// WithListener enables voice input through l.
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// WithArchiver indexes the conversations folder after every upload.
func WithArchiver(a Archiver) Option {
	return func(c *Controller) { c.archiver = a }
}

// WithRand sets the source used to pick scenarios and personalities.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) { c.rng = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMetrics records conversation starts and persistence outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller applies trainee actions to sessions. It holds no per-session
// state and is safe for concurrent use; callers serialise access to each
// [Session].
type Controller struct {
	cfg      Config
	speaker  Speaker
	listener Listener
	archiver Archiver
	metrics  *observe.Metrics
	now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	bg sync.WaitGroup
}

// NewController returns a Controller over cfg.
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

// Wait blocks until background archive indexing has finished.
func (c *Controller) Wait() { c.bg.Wait() }

// Navigate shows page. Session data is never cleared; opening the
// conversation page starts or resumes the conversation.
func (c *Controller) Navigate(ctx context.Context, s *Session, page Page) error {
	if page == PageStartConversation {
		return c.StartConversation(ctx, s)
	}
	if _, ok := ParsePage(string(page)); !ok {
		return fmt.Errorf("session: navigate to %q: %w", page, ErrInvalidTransition)
	}
	if page == PageGeneralFeedback && s.FeedbackOpenedAt.IsZero() {
		s.FeedbackOpenedAt = c.now()
	}
	s.Page = page
	return nil
}

// StartConversation opens the conversation page. The first entry picks a
// scenario and personality and seeds the customer's greeting; re-entry
// resumes whatever phase the conversation is in.
func (c *Controller) StartConversation(ctx context.Context, s *Session) error {
	s.Page = PageStartConversation
	if s.Phase != PhaseIdle {
		return nil
	}
	ctx = observe.WithSessionID(ctx, s.ID)

	scenarios, personalities := c.cfg.Catalog.Scenarios(), c.cfg.Catalog.Personalities()
	if len(scenarios) == 0 || len(personalities) == 0 {
		return errors.New("session: start conversation: no scenarios or personalities loaded")
	}
	c.rngMu.Lock()
	s.Scenario = scenarios[c.rng.IntN(len(scenarios))]
	s.Personality = personalities[c.rng.IntN(len(personalities))]
	c.rngMu.Unlock()

	s.Transcript = types.Transcript{{Role: types.RoleCustomer, Content: Greeting}}
	s.Phase = PhaseConversing
	if c.metrics != nil {
		c.metrics.RecordConversationStarted(ctx)
	}
	observe.Logger(ctx).Info("session: conversation started",
		"scenario", s.Scenario, "personality", s.Personality)

	c.speak(ctx, s, Greeting)
	return nil
}

// SubmitText adds the employee's message and the customer's reply. The
// reply is only appended once complete; if the model fails the employee
// turn is removed again and the transcript is left as it was.
func (c *Controller) SubmitText(ctx context.Context, s *Session, text string, onFragment func(string)) error {
	if err := s.CheckMessage(text); err != nil {
		return err
	}
	text = strings.TrimSpace(text)

	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, s.ID), "session.reply")

	before := len(s.Transcript)
	s.Transcript = append(s.Transcript, types.Turn{Role: types.RoleEmployee, Content: text})

	reply, err := c.cfg.Chat.Reply(ctx, c.persona(s), s.Transcript.Clone(), onFragment)
	observe.EndSpan(span, err)
	if err != nil {
		s.Transcript = s.Transcript[:before:before]
		return fmt.Errorf("session: submit message: %w", err)
	}
	s.Transcript = append(s.Transcript, types.Turn{Role: types.RoleCustomer, Content: reply})

	c.speak(ctx, s, reply)
	return nil
}

// SubmitVoice transcribes clip and then behaves like [Controller.SubmitText].
// A failed transcription leaves the transcript untouched.
func (c *Controller) SubmitVoice(ctx context.Context, s *Session, clip speech.Clip, onFragment func(string)) (string, error) {
	if s.Phase != PhaseConversing {
		return "", invalid(s, "submit voice")
	}
	if c.listener == nil {
		return "", fmt.Errorf("session: submit voice: %w: voice input disabled", speech.ErrTranscription)
	}
	text, err := c.listener.Transcribe(ctx, clip)
	if err != nil {
		return "", fmt.Errorf("session: submit voice: %w", err)
	}
	return text, c.SubmitText(ctx, s, text, onFragment)
}

// RequestExit asks for confirmation before ending the conversation.
func (c *Controller) RequestExit(s *Session) error {
	if s.Phase != PhaseConversing {
		return invalid(s, "request exit")
	}
	s.Phase = PhasePendingExit
	return nil
}

// CancelExit returns to the conversation unchanged.
func (c *Controller) CancelExit(s *Session) error {
	if s.Phase != PhasePendingExit {
		return invalid(s, "cancel exit")
	}
	s.Phase = PhaseConversing
	return nil
}

// ConfirmExit ends the conversation and grades it. A reply the coach could
// not parse still produces feedback (raw summary, all scores N/A); a model
// failure leaves the session waiting for confirmation.
func (c *Controller) ConfirmExit(ctx context.Context, s *Session) error {
	if s.Phase != PhasePendingExit {
		return invalid(s, "confirm exit")
	}

	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, s.ID), "session.coach")
	res, err := c.cfg.Coach.Coach(ctx, s.Transcript.Clone())
	var pe *coaching.ParseError
	if errors.As(err, &pe) {
		observe.Logger(ctx).Warn("session: coaching reply unparsable", "reason", pe.Reason)
		err = nil
	}
	observe.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("session: confirm exit: %w", err)
	}

	s.Coaching = &res
	s.Phase = PhaseReviewing
	return nil
}

// SubmitFeedback records the trainee's rating and persists the
// conversation. The local file is always written; in testing mode nothing
// reaches the gateway. Persistence failures become notices and the session
// still advances.
func (c *Controller) SubmitFeedback(ctx context.Context, s *Session, form FeedbackForm) error {
	if s.Phase != PhaseReviewing || s.Coaching == nil {
		return invalid(s, "submit feedback")
	}
	if form.Rating < 1 || form.Rating > 5 {
		return ErrInvalidRating
	}

	now := c.now()
	rec := &FeedbackRecord{
		Scores:      s.Coaching.Scores,
		Summary:     s.Coaching.Summary,
		Rating:      form.Rating,
		Comments:    strings.TrimSpace(form.Comments),
		Issue:       strings.TrimSpace(form.Issue),
		Filename:    persistence.ConversationFilename(now),
		SubmittedAt: now,
	}
	doc := persistence.TranscriptDocument{
		Turns:    s.Transcript,
		Summary:  rec.Summary,
		Scores:   rec.Scores,
		Rating:   rec.Rating,
		Comments: rec.Comments,
		Issue:    rec.Issue,
	}

	ctx = observe.WithSessionID(ctx, s.ID)
	log := observe.Logger(ctx).With("file", rec.Filename)
	path, err := persistence.SaveLocal(c.cfg.LocalDir, rec.Filename, doc.String())
	c.recordWrite(ctx, "save_local", err)
	if err != nil {
		log.Error("session: save transcript locally", "err", err)
		s.Notify("Could not save the transcript locally: %v", err)
	}

	if !s.TestingMode {
		rec.Link = c.upload(ctx, s, path, err == nil)
		row := persistence.NewConversationRecord(rec.Filename, now, s.Transcript, rec.Rating, rec.Link, rec.Scores).Row()
		err := c.cfg.Gateway.AppendRecord(ctx, persistence.SheetConversations, row)
		c.recordWrite(ctx, "append", err)
		if err != nil {
			log.Error("session: append conversation record", "err", err)
			s.Notify("Could not log the conversation: %v", err)
		}
	}

	s.Feedback = rec
	s.Phase = PhaseSubmitted
	log.Info("session: feedback submitted", "rating", rec.Rating, "testing", s.TestingMode)
	return nil
}

// ReturnHome clears the conversation and shows the main menu. Testing mode
// and role survive.
func (c *Controller) ReturnHome(s *Session) error {
	if s.Phase != PhaseSubmitted && s.Phase != PhaseReviewing {
		return invalid(s, "return home")
	}
	s.reset()
	return nil
}

// Unlock sets testing mode iff password matches the developer secret and
// clears it otherwise.
func (c *Controller) Unlock(s *Session, password string) bool {
	s.TestingMode = c.cfg.DeveloperPassword != "" && password == c.cfg.DeveloperPassword
	return s.TestingMode
}

// SetRole records whether the trainee is crew or a manager.
func (c *Controller) SetRole(s *Session, r Role) error {
	if !r.Valid() {
		return fmt.Errorf("session: set role %q: %w", r, ErrInvalidTransition)
	}
	s.Role = r
	return nil
}

// SubmitGeneralFeedback stores an answer to the general-feedback form.
// The duration runs from the first time the page was opened.
func (c *Controller) SubmitGeneralFeedback(ctx context.Context, s *Session, form persistence.GeneralFeedback) (persistence.FeedbackRecord, error) {
	if form.Rating < 1 || form.Rating > 5 {
		return persistence.FeedbackRecord{}, ErrInvalidRating
	}
	now := c.now()
	opened := s.FeedbackOpenedAt
	if opened.IsZero() {
		opened = now
	}
	rec := persistence.FeedbackRecord{Timestamp: now, Duration: now.Sub(opened), Answers: form}
	name := persistence.FeedbackFilename(now)

	ctx = observe.WithSessionID(ctx, s.ID)
	log := observe.Logger(ctx).With("file", name)
	path, err := persistence.SaveLocal(c.cfg.LocalDir, name, rec.Document())
	c.recordWrite(ctx, "save_local", err)
	if err != nil {
		log.Error("session: save general feedback locally", "err", err)
		s.Notify("Could not save your feedback locally: %v", err)
	}

	if !s.TestingMode {
		rec.Link = c.upload(ctx, s, path, err == nil)
		err := c.cfg.Gateway.AppendRecord(ctx, persistence.SheetFeedback, rec.Row())
		c.recordWrite(ctx, "append", err)
		if err != nil {
			log.Error("session: append feedback record", "err", err)
			s.Notify("Could not log your feedback: %v", err)
		}
	}
	s.FeedbackOpenedAt = time.Time{}
	return rec, nil
}

func (c *Controller) persona(s *Session) chatsim.Persona {
	return chatsim.Persona{Personality: s.Personality, Scenario: s.Scenario, EmployeeRole: string(s.Role)}
}

// speak voices text into s.LastClip. Failures only produce a notice.
func (c *Controller) speak(ctx context.Context, s *Session, text string) {
	if c.speaker == nil {
		return
	}
	clip, err := c.speaker.Render(ctx, text)
	if err != nil {
		observe.Logger(ctx).Warn("session: synthesis failed", "err", err)
		s.Notify("Failed to synthesize speech: %v", err)
		return
	}
	seq := 1
	if s.LastClip != nil {
		seq = s.LastClip.Seq + 1
	}
	s.LastClip = &Clip{Seq: seq, MIMEType: clip.MIMEType, Data: clip.Data}
}

// upload sends the local file at path to the conversations folder and
// returns its link, or "" on failure.
func (c *Controller) upload(ctx context.Context, s *Session, path string, saved bool) string {
	if !saved {
		return ""
	}
	link, err := c.cfg.Gateway.UploadFile(ctx, path, c.cfg.ConversationsFolder)
	c.recordWrite(ctx, "upload", err)
	if err != nil {
		observe.Logger(ctx).Error("session: upload", "path", path, "err", err)
		s.Notify("Could not upload %s: %v", path, err)
		return ""
	}
	c.index(ctx)
	return link
}

// index refreshes the search archive in the background.
func (c *Controller) index(ctx context.Context) {
	if c.archiver == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	c.bg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		n, err := c.archiver.Backfill(ctx, c.cfg.Gateway, c.cfg.ConversationsFolder, 2)
		if err != nil {
			slog.Warn("session: archive backfill", "err", err)
			return
		}
		slog.Debug("session: archive backfill", "indexed", n)
	})
}

func (c *Controller) recordWrite(ctx context.Context, op string, err error) {
	if c.metrics != nil {
		c.metrics.RecordPersistenceWrite(ctx, op, observe.Status(err))
	}
}
