package persistence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/burgerxpress/internal/coaching"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// Section headers of the transcript file.
const (
	headerHistory  = "=== Conversation History ==="
	headerCoaching = "=== Coaching Feedback ==="
	headerScores   = "=== AI Scoring ==="
	headerRating   = "=== Feedback Rating ==="
	headerWritten  = "=== Written Feedback ==="
	headerIssue    = "=== Issue Description ==="
)

// ErrMalformedDocument is returned by [ParseTranscriptDocument].
var ErrMalformedDocument = errors.New("persistence: malformed transcript document")

// TranscriptDocument is the durable text file written for every submitted
// conversation.
type TranscriptDocument struct {
	Turns    types.Transcript  `json:"turns"`
	Summary  string            `json:"summary"`
	Scores   coaching.ScoreSet `json:"scores"`
	Rating   int               `json:"rating,omitempty"`
	Comments string            `json:"comments,omitempty"`
	Issue    string            `json:"issue,omitempty"`
}

// String renders the document. Newlines inside a turn are flattened to
// spaces so that each turn stays on one line.
func (d TranscriptDocument) String() string {
	var b strings.Builder
	b.WriteString(headerHistory + "\n")
	for _, t := range d.Turns {
		b.WriteString(t.Role.Label() + ": " + flatten(t.Content) + "\n")
	}

	b.WriteString("\n" + headerCoaching + "\n")
	b.WriteString(strings.TrimSpace(d.Summary) + "\n")

	b.WriteString("\n" + headerScores + "\n")
	for _, c := range coaching.Categories {
		v := d.Scores.Get(c)
		if v == "" {
			v = coaching.NotApplicable
		}
		b.WriteString(string(c) + ": " + v + "\n")
	}

	if d.Rating > 0 {
		b.WriteString("\n" + headerRating + "\n" + strconv.Itoa(d.Rating) + "/5\n")
	}
	if c := strings.TrimSpace(d.Comments); c != "" {
		b.WriteString("\n" + headerWritten + "\n" + c + "\n")
	}
	if i := strings.TrimSpace(d.Issue); i != "" {
		b.WriteString("\n" + headerIssue + "\n" + i + "\n")
	}
	return b.String()
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

// ParseTranscriptDocument reads a file produced by [TranscriptDocument.String].
// The score block is the first scoring header after the coaching header that
// is followed by one line per category in display order. Everything after
// that block belongs to the optional sections, so user text repeating any
// header cannot move the scores.
func ParseTranscriptDocument(text string) (TranscriptDocument, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != headerHistory {
		return TranscriptDocument{}, fmt.Errorf("%w: missing %s", ErrMalformedDocument, headerHistory)
	}

	coachIdx := indexLine(lines, headerCoaching, 1)
	if coachIdx < 0 {
		return TranscriptDocument{}, fmt.Errorf("%w: missing %s", ErrMalformedDocument, headerCoaching)
	}
	scoresIdx, scores := scoreBlock(lines, coachIdx+1)
	if scoresIdx < 0 {
		return TranscriptDocument{}, fmt.Errorf("%w: missing %s block", ErrMalformedDocument, headerScores)
	}

	var doc TranscriptDocument
	for n, line := range lines[1:coachIdx] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		label, content, ok := strings.Cut(line, ": ")
		role, known := types.RoleFromLabel(label)
		if !ok || !known {
			return TranscriptDocument{}, fmt.Errorf("%w: line %d: not a turn: %q", ErrMalformedDocument, n+2, line)
		}
		doc.Turns = append(doc.Turns, types.Turn{Role: role, Content: content})
	}
	doc.Summary = strings.TrimSpace(strings.Join(lines[coachIdx+1:scoresIdx], "\n"))
	doc.Scores = scores

	rest := lines[scoresIdx+1+len(coaching.Categories):]
	if err := parseOptional(&doc, rest); err != nil {
		return TranscriptDocument{}, err
	}
	return doc, nil
}

// scoreBlock finds the scoring header at or after from that is followed by
// every category line in order. It returns -1 when there is none.
func scoreBlock(lines []string, from int) (int, coaching.ScoreSet) {
	n := len(coaching.Categories)
next:
	for i := from; i+n < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != headerScores {
			continue
		}
		var set coaching.ScoreSet
		for j, want := range coaching.Categories {
			key, val, ok := strings.Cut(lines[i+1+j], ":")
			if !ok || strings.TrimSpace(key) != string(want) {
				continue next
			}
			set.Set(want, strings.TrimSpace(val))
		}
		return i, set
	}
	return -1, coaching.ScoreSet{}
}

// parseOptional reads the rating, written feedback and issue blocks that
// follow the scores. They are written in that order, so the rating header
// may only open the tail and the issue block starts at the last issue
// header.
func parseOptional(doc *TranscriptDocument, rest []string) error {
	i := skipBlank(rest, 0)
	if i < len(rest) && strings.TrimSpace(rest[i]) == headerRating {
		i = skipBlank(rest, i+1)
		if i >= len(rest) {
			return fmt.Errorf("%w: empty rating", ErrMalformedDocument)
		}
		r := strings.TrimSpace(rest[i])
		num, _, _ := strings.Cut(r, "/")
		rating, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return fmt.Errorf("%w: rating %q", ErrMalformedDocument, r)
		}
		doc.Rating = rating
		i = skipBlank(rest, i+1)
	}

	issueIdx := -1
	for j := len(rest) - 1; j >= i; j-- {
		if strings.TrimSpace(rest[j]) == headerIssue {
			issueIdx = j
			break
		}
	}
	end := len(rest)
	if issueIdx >= 0 {
		doc.Issue = strings.TrimSpace(strings.Join(rest[issueIdx+1:], "\n"))
		end = issueIdx
	}
	if i < end && strings.TrimSpace(rest[i]) == headerWritten {
		doc.Comments = strings.TrimSpace(strings.Join(rest[i+1:end], "\n"))
	}
	return nil
}

func skipBlank(lines []string, from int) int {
	for from < len(lines) && strings.TrimSpace(lines[from]) == "" {
		from++
	}
	return from
}

func indexLine(lines []string, want string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == want {
			return i
		}
	}
	return -1
}
