// Package analytics aggregates the conversation and general-feedback sheets
// into the figures the dashboard plots. It returns numbers only; drawing is
// left to the front-end.
package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/burgerxpress/internal/persistence"
)

// ValueCount is one bar of a categorical chart.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// DayCount is the number of conversations on one calendar day.
type DayCount struct {
	Date  string `json:"date"` // 2006-01-02
	Count int    `json:"count"`
}

// WeeklyScores holds the mean numeric coaching scores of one week. Weeks end
// on Sunday. A nil mean means no numeric score that week.
type WeeklyScores struct {
	WeekEnding      string   `json:"week_ending"`
	RuleCompliance  *float64 `json:"rule_compliance"`
	Professionalism *float64 `json:"professionalism"`
	Clarity         *float64 `json:"clarity"`
}

// ConversationStats summarises [persistence.SheetConversations].
type ConversationStats struct {
	Total              int            `json:"total"`
	AverageRating      *float64       `json:"average_rating"`
	AverageLength      float64        `json:"average_length"`
	EmployeeMessages   int            `json:"employee_messages"`
	CustomerMessages   int            `json:"customer_messages"`
	EscalationRate     float64        `json:"escalation_rate"` // percent
	PerDay             []DayCount     `json:"per_day"`
	Ratings            []ValueCount   `json:"ratings"`
	WeeklyScores       []WeeklyScores `json:"weekly_scores"`
	EscalationHandling []ValueCount   `json:"escalation_handling"`
}

// Question is the answer distribution of one multiple-choice question.
type Question struct {
	Name   string       `json:"name"`
	Counts []ValueCount `json:"counts"`
}

// Comment is one row of the suggestions and issues table.
type Comment struct {
	Suggestions string `json:"suggestions"`
	Issues      string `json:"issues"`
	Link        string `json:"link"`
}

// FeedbackStats summarises [persistence.SheetFeedback].
type FeedbackStats struct {
	Total     int          `json:"total"`
	Durations []ValueCount `json:"durations"` // seconds
	Ratings   []ValueCount `json:"ratings"`
	Questions []Question   `json:"questions"`
	Comments  []Comment    `json:"comments"`
}

// Dashboard carries both summaries.
type Dashboard struct {
	Conversations ConversationStats `json:"conversations"`
	Feedback      FeedbackStats     `json:"feedback"`
}

// Questions lists the multiple-choice columns of the feedback sheet in
// display order.
var Questions = []string{
	"Task Clarity", "AI Quality", "Speed", "Usability", "Learning",
	"Font Comfort", "Layout Clarity", "Navigation",
}

// Service reads sheets through a persistence.RecordReader.
type Service struct {
	reader persistence.RecordReader
}

// New returns a Service over r.
func New(r persistence.RecordReader) *Service {
	return &Service{reader: r}
}

// Conversations loads and summarises the conversation sheet.
func (s *Service) Conversations(ctx context.Context) (ConversationStats, error) {
	rows, err := s.reader.ReadRecords(ctx, persistence.SheetConversations)
	if err != nil {
		return ConversationStats{}, fmt.Errorf("analytics: conversations: %w", err)
	}
	return SummarizeConversations(rows), nil
}

// Feedback loads and summarises the general-feedback sheet.
func (s *Service) Feedback(ctx context.Context) (FeedbackStats, error) {
	rows, err := s.reader.ReadRecords(ctx, persistence.SheetFeedback)
	if err != nil {
		return FeedbackStats{}, fmt.Errorf("analytics: feedback: %w", err)
	}
	return SummarizeFeedback(rows), nil
}

// Dashboard loads both sheets concurrently.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		d.Conversations, err = s.Conversations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.Feedback, err = s.Feedback(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

// table maps header names to column positions. Rows shorter than the
// header read as empty cells.
type table struct {
	cols map[string]int
}

func newTable(header []string) table {
	t := table{cols: make(map[string]int, len(header))}
	for i, h := range header {
		t.cols[strings.TrimSpace(h)] = i
	}
	return t
}

func (t table) get(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// split separates the header from the data rows. Sheets written before a
// header existed fall back to the fixed column order.
func split(rows [][]string, fallback []string, firstCol string) (table, [][]string) {
	if len(rows) > 0 && len(rows[0]) > 0 && strings.TrimSpace(rows[0][0]) == firstCol {
		return newTable(rows[0]), rows[1:]
	}
	return newTable(fallback), rows
}

func number(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func intOrZero(s string) int {
	f, ok := number(s)
	if !ok {
		return 0
	}
	return int(f)
}

// SummarizeConversations aggregates raw conversation-sheet rows. Rows whose
// timestamp does not parse are dropped, so stray headers never count.
func SummarizeConversations(rows [][]string) ConversationStats {
	t, data := split(rows, persistence.ConversationHeader, "Filename")

	stats := ConversationStats{
		PerDay:             []DayCount{},
		Ratings:            []ValueCount{},
		WeeklyScores:       []WeeklyScores{},
		EscalationHandling: []ValueCount{},
	}
	var (
		ratingSum, lengthSum float64
		rated, escalated     int
		perDay               = map[string]int{}
		ratings              = map[string]int{}
		handling             = map[string]int{}
		weeks                = map[string]*weekAcc{}
	)
	for _, row := range data {
		ts, err := time.Parse(persistence.TimestampLayout, t.get(row, "Timestamp"))
		if err != nil {
			continue
		}
		stats.Total++
		perDay[ts.Format(time.DateOnly)]++

		if r, ok := number(t.get(row, "Rating")); ok {
			ratingSum += r
			rated++
			ratings[strconv.FormatFloat(r, 'f', -1, 64)]++
		}
		lengthSum += float64(intOrZero(t.get(row, "Conversation Length")))
		stats.EmployeeMessages += intOrZero(t.get(row, "Employee Messages"))
		stats.CustomerMessages += intOrZero(t.get(row, "Customer Messages"))
		if t.get(row, "Escalation") == "Yes" {
			escalated++
		}

		eh := t.get(row, "Escalation Handling")
		if eh == "" {
			eh = "N/A"
		}
		handling[eh]++

		wk := weekEnding(ts)
		acc := weeks[wk]
		if acc == nil {
			acc = &weekAcc{}
			weeks[wk] = acc
		}
		acc.add(0, t.get(row, "Rule Compliance"))
		acc.add(1, t.get(row, "Professionalism"))
		acc.add(2, t.get(row, "Clarity"))
	}
	if stats.Total == 0 {
		return stats
	}

	if rated > 0 {
		avg := ratingSum / float64(rated)
		stats.AverageRating = &avg
	}
	stats.AverageLength = lengthSum / float64(stats.Total)
	stats.EscalationRate = float64(escalated) / float64(stats.Total) * 100

	for _, d := range slices.Sorted(mapKeys(perDay)) {
		stats.PerDay = append(stats.PerDay, DayCount{Date: d, Count: perDay[d]})
	}
	stats.Ratings = numericCounts(ratings)
	stats.EscalationHandling = valueCounts(handling)
	stats.WeeklyScores = weeklyRange(weeks)
	return stats
}

// SummarizeFeedback aggregates raw general-feedback rows.
func SummarizeFeedback(rows [][]string) FeedbackStats {
	t, data := split(rows, persistence.FeedbackHeader, "Timestamp")

	stats := FeedbackStats{
		Durations: []ValueCount{},
		Ratings:   []ValueCount{},
		Questions: make([]Question, 0, len(Questions)),
		Comments:  []Comment{},
	}
	durations := map[string]int{}
	ratings := map[string]int{}
	answers := make([]map[string]int, len(Questions))
	for i := range answers {
		answers[i] = map[string]int{}
	}

	for _, row := range data {
		if len(row) == 0 || strings.Join(row, "") == "" {
			continue
		}
		stats.Total++
		if d, ok := number(t.get(row, "Duration")); ok {
			durations[strconv.FormatFloat(d, 'f', -1, 64)]++
		}
		if r, ok := number(t.get(row, "Rating")); ok {
			ratings[strconv.FormatFloat(r, 'f', -1, 64)]++
		}
		for i, q := range Questions {
			if v := t.get(row, q); v != "" {
				answers[i][v]++
			}
		}
		stats.Comments = append(stats.Comments, Comment{
			Suggestions: t.get(row, "Suggestions"),
			Issues:      t.get(row, "Issues"),
			Link:        t.get(row, "Link"),
		})
	}

	stats.Durations = numericCounts(durations)
	stats.Ratings = numericCounts(ratings)
	for i, q := range Questions {
		stats.Questions = append(stats.Questions, Question{Name: q, Counts: valueCounts(answers[i])})
	}
	return stats
}

type weekAcc struct {
	sum [3]float64
	n   [3]int
}

func (w *weekAcc) add(i int, v string) {
	if f, ok := number(v); ok {
		w.sum[i] += f
		w.n[i]++
	}
}

func (w *weekAcc) mean(i int) *float64 {
	if w == nil || w.n[i] == 0 {
		return nil
	}
	m := w.sum[i] / float64(w.n[i])
	return &m
}

// weekEnding returns the Sunday closing ts's week.
func weekEnding(ts time.Time) string {
	days := (7 - int(ts.Weekday())) % 7
	return ts.AddDate(0, 0, days).Format(time.DateOnly)
}

// weeklyRange emits every week from the first to the last, including
// weeks without conversations.
func weeklyRange(weeks map[string]*weekAcc) []WeeklyScores {
	keys := slices.Sorted(mapKeys(weeks))
	if len(keys) == 0 {
		return []WeeklyScores{}
	}
	first, _ := time.Parse(time.DateOnly, keys[0])
	last, _ := time.Parse(time.DateOnly, keys[len(keys)-1])

	var out []WeeklyScores
	for d := first; !d.After(last); d = d.AddDate(0, 0, 7) {
		k := d.Format(time.DateOnly)
		acc := weeks[k]
		out = append(out, WeeklyScores{
			WeekEnding:      k,
			RuleCompliance:  acc.mean(0),
			Professionalism: acc.mean(1),
			Clarity:         acc.mean(2),
		})
	}
	return out
}

// valueCounts orders by descending count, then by value.
func valueCounts(m map[string]int) []ValueCount {
	out := make([]ValueCount, 0, len(m))
	for v, c := range m {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	slices.SortFunc(out, func(a, b ValueCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return out
}

// numericCounts orders by ascending numeric value.
func numericCounts(m map[string]int) []ValueCount {
	out := make([]ValueCount, 0, len(m))
	for v, c := range m {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	slices.SortFunc(out, func(a, b ValueCount) int {
		fa, _ := number(a.Value)
		fb, _ := number(b.Value)
		return cmp.Compare(fa, fb)
	})
	return out
}

func mapKeys[V any](m map[string]V) func(yield func(string) bool) {
	return func(yield func(string) bool) {
		for k := range m {
			if !yield(k) {
				return
			}
		}
	}
}
