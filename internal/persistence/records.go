package persistence

import (
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/burgerxpress/internal/coaching"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

const (
	// TimestampLayout is used in file names and in the conversation sheet.
	TimestampLayout = "2006-01-02 15-04-05"

	// FeedbackTimestampLayout is used in the general-feedback sheet.
	FeedbackTimestampLayout = "2006-01-02 15:04:05"
)

// EscalationKeywords mark a conversation as escalated when any turn
// contains one of them, ignoring case.
var EscalationKeywords = []string{"manager", "escalate", "supervisor", "complain", "issue"}

// ConversationHeader names the columns of [SheetConversations].
var ConversationHeader = []string{
	"Filename", "Timestamp", "Rating", "Link",
	"Employee Messages", "Customer Messages", "Conversation Length", "Escalation",
	"Rule Compliance", "Escalation Handling", "Professionalism", "Clarity",
}

// FeedbackHeader names the columns of [SheetFeedback].
var FeedbackHeader = []string{
	"Timestamp", "Duration", "Rating",
	"Task Clarity", "AI Quality", "Speed", "Usability", "Learning",
	"Font Comfort", "Layout Clarity", "Navigation",
	"Suggestions", "Issues", "Link",
}

// ConversationFilename returns the transcript file name for ts.
func ConversationFilename(ts time.Time) string {
	return "conversation_" + ts.Format(TimestampLayout) + ".txt"
}

// FeedbackFilename returns the general-feedback file name for ts.
func FeedbackFilename(ts time.Time) string {
	return "general_feedback_" + ts.Format(TimestampLayout) + ".txt"
}

// Escalated reports whether any turn mentions an escalation keyword.
func Escalated(t types.Transcript) bool {
	for _, turn := range t {
		lower := strings.ToLower(turn.Content)
		for _, kw := range EscalationKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// ConversationRecord is one row of [SheetConversations].
type ConversationRecord struct {
	Filename      string
	Timestamp     time.Time
	Rating        int // 0 when absent
	Link          string
	EmployeeTurns int
	CustomerTurns int
	TotalTurns    int
	Escalation    bool
	Scores        coaching.ScoreSet
}

// NewConversationRecord derives the turn counts and escalation flag from t.
func NewConversationRecord(filename string, ts time.Time, t types.Transcript, rating int, link string, scores coaching.ScoreSet) ConversationRecord {
	return ConversationRecord{
		Filename:      filename,
		Timestamp:     ts,
		Rating:        rating,
		Link:          link,
		EmployeeTurns: t.Count(types.RoleEmployee),
		CustomerTurns: t.Count(types.RoleCustomer),
		TotalTurns:    len(t),
		Escalation:    Escalated(t),
		Scores:        scores,
	}
}

// Row renders the record in [ConversationHeader] order. Missing scores and
// a missing rating are written as N/A.
func (r ConversationRecord) Row() []string {
	rating := coaching.NotApplicable
	if r.Rating > 0 {
		rating = strconv.Itoa(r.Rating)
	}
	row := []string{
		r.Filename,
		r.Timestamp.Format(TimestampLayout),
		rating,
		r.Link,
		strconv.Itoa(r.EmployeeTurns),
		strconv.Itoa(r.CustomerTurns),
		strconv.Itoa(r.TotalTurns),
		yesNo(r.Escalation),
	}
	for _, v := range r.Scores.Values() {
		if v == "" {
			v = coaching.NotApplicable
		}
		row = append(row, v)
	}
	return row
}

// GeneralFeedback is the answer set of the general-feedback form.
type GeneralFeedback struct {
	Rating        int    `json:"rating"`
	TaskClarity   string `json:"task_clarity"`
	AIQuality     string `json:"ai_quality"`
	Speed         string `json:"speed"`
	Usability     string `json:"usability"`
	Learning      string `json:"learning"`
	FontComfort   string `json:"font_comfort"`
	LayoutClarity string `json:"layout_clarity"`
	Navigation    string `json:"navigation"`
	Suggestions   string `json:"suggestions"`
	Issues        string `json:"issues"`
}

// FeedbackRecord is one row of [SheetFeedback].
type FeedbackRecord struct {
	Timestamp time.Time
	Duration  time.Duration
	Answers   GeneralFeedback
	Link      string
}

// Row renders the record in [FeedbackHeader] order.
func (r FeedbackRecord) Row() []string {
	a := r.Answers
	return []string{
		r.Timestamp.Format(FeedbackTimestampLayout),
		strconv.Itoa(int(r.Duration / time.Second)),
		strconv.Itoa(a.Rating),
		a.TaskClarity,
		a.AIQuality,
		a.Speed,
		a.Usability,
		a.Learning,
		a.FontComfort,
		a.LayoutClarity,
		a.Navigation,
		a.Suggestions,
		a.Issues,
		r.Link,
	}
}

// Document renders the general-feedback text file.
func (r FeedbackRecord) Document() string {
	a := r.Answers
	var b strings.Builder
	b.WriteString("=== General Feedback Submitted ===\n")
	b.WriteString("Timestamp: " + r.Timestamp.Format(FeedbackTimestampLayout) + "\n")
	b.WriteString("Time to complete: " + strconv.Itoa(int(r.Duration/time.Second)) + " seconds\n")
	b.WriteString("Experience Rating: " + strconv.Itoa(a.Rating) + "/5\n")
	b.WriteString("Task Clarity: " + a.TaskClarity + "\n")
	b.WriteString("AI Quality: " + a.AIQuality + "\n")
	b.WriteString("Speed: " + a.Speed + "\n")
	b.WriteString("Usability: " + a.Usability + "\n")
	b.WriteString("Learning Value: " + a.Learning + "\n")
	b.WriteString("Font Comfort: " + a.FontComfort + "\n")
	b.WriteString("Layout Clarity: " + a.LayoutClarity + "\n")
	b.WriteString("Ease of Navigation: " + a.Navigation + "\n")
	b.WriteString("Suggestions: " + a.Suggestions + "\n")
	b.WriteString("Issues: " + a.Issues + "\n")
	return b.String()
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
