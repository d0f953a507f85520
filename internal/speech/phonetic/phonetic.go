// Package phonetic corrects speech-recognition near misses of menu item
// names ("double stak" for "Double Stack") using Double Metaphone codes and
// Jaro-Winkler similarity.
//
// A phrase is compared only with entities of the same word count. It is a
// phonetic candidate when every word shares a Double Metaphone code with the
// entity word in the same position; candidates are then ranked by
// Jaro-Winkler similarity of the whole phrase. When no phonetic candidate
// exists, pure Jaro-Winkler similarity is tried with a stricter threshold.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minTokenLen keeps short function words ("a", "to") out of single-word
	// matches.
	minTokenLen = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched entity. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// candidate exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher holds a prepared entity list. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	entities []entity
	maxWords int
}

type entity struct {
	name   string
	lower  string
	tokens []string
	codes  []codeSet
}

type codeSet map[string]struct{}

// New prepares a Matcher for the given entity names.
func New(entities []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, name := range entities {
		lower := strings.ToLower(strings.TrimSpace(name))
		tokens := strings.Fields(lower)
		if len(tokens) == 0 {
			continue
		}
		e := entity{name: name, lower: strings.Join(tokens, " "), tokens: tokens}
		for _, t := range tokens {
			e.codes = append(e.codes, codes(t))
		}
		m.entities = append(m.entities, e)
		m.maxWords = max(m.maxWords, len(tokens))
	}
	return m
}

// Match finds the entity closest to phrase. When matched is false, corrected
// equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	tokens := strings.Fields(strings.ToLower(phrase))
	if len(tokens) == 0 {
		return phrase, 0, false
	}
	if len(tokens) == 1 && len([]rune(tokens[0])) < minTokenLen {
		return phrase, 0, false
	}
	full := strings.Join(tokens, " ")
	inputCodes := make([]codeSet, len(tokens))
	for i, t := range tokens {
		inputCodes[i] = codes(t)
	}

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range m.entities {
		if len(e.tokens) != len(tokens) {
			continue
		}
		score := matchr.JaroWinkler(full, e.lower, false)
		if full == e.lower {
			return e.name, 1, true
		}
		if allOverlap(inputCodes, e.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = e.name, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = e.name, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// Correction records one replacement made by [Matcher.Correct].
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// Correct scans text for word windows that match an entity and replaces
// them with the catalogue spelling. Longer windows win over shorter ones.
// Leading and trailing punctuation of a window is preserved.
func (m *Matcher) Correct(text string) (string, []Correction) {
	words := strings.Fields(text)
	if len(words) == 0 || len(m.entities) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(words); {
		consumed := 0
		for n := min(m.maxWords, len(words)-i); n >= 1; n-- {
			window := words[i : i+n]
			prefix, core, suffix := splitPunct(strings.Join(window, " "))
			if core == "" {
				continue
			}
			name, conf, ok := m.Match(core)
			if !ok {
				continue
			}
			out = append(out, prefix+name+suffix)
			if name != core {
				corrections = append(corrections, Correction{Original: core, Corrected: name, Confidence: conf})
			}
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, words[i])
			consumed = 1
		}
		i += consumed
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (prefix, core, suffix string) {
	isPunct := func(r rune) bool { return unicode.IsPunct(r) && r != '\'' && r != '-' }
	start := strings.IndexFunc(s, func(r rune) bool { return !isPunct(r) })
	if start < 0 {
		return s, "", ""
	}
	last := strings.LastIndexFunc(s, func(r rune) bool { return !isPunct(r) })
	_, size := utf8.DecodeRuneInString(s[last:])
	end := last + size
	return s[:start], s[start:end], s[end:]
}

func codes(token string) codeSet {
	cs := make(codeSet, 2)
	p, s := matchr.DoubleMetaphone(token)
	if p != "" {
		cs[p] = struct{}{}
	}
	if s != "" {
		cs[s] = struct{}{}
	}
	return cs
}

// allOverlap reports whether every position in a shares a code with the
// same position in b.
func allOverlap(a, b []codeSet) bool {
	for i := range a {
		if !overlap(a[i], b[i]) {
			return false
		}
	}
	return true
}

func overlap(a, b codeSet) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
