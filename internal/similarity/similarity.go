// Package similarity scores the agreement between a raw extraction and its
// interpretation with two independent lexical metrics. A low score on either
// metric means the interpretation drifted from what was read off the chart
// and the field should be routed to human review.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/adrg/strutil"
	strmetrics "github.com/adrg/strutil/metrics"
	"github.com/agext/levenshtein"
)

// Default review thresholds, applied when a template does not override them.
const (
	DefaultTextThreshold   = 0.8
	DefaultVectorThreshold = 0.7
)

// Thresholds holds the per-field minimum scores below which review is required.
type Thresholds struct {
	Text   float64
	Vector float64
}

// DefaultThresholds returns the global fallback thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Text: DefaultTextThreshold, Vector: DefaultVectorThreshold}
}

// Score computes the text and vector similarity between a raw extraction and
// its interpretation. Both metrics live in [0, 1]. Two absent (nil or empty
// after trimming) values agree perfectly; exactly one absent value is total
// disagreement. The text score is a rune-level normalized Levenshtein
// similarity, the vector score is a bigram Sorensen-Dice ratio; the two are
// computed independently so a transposition-heavy edit and a vocabulary-level
// drift are caught separately.
func Score(raw, interpreted *string) (text, vector float64) {
	a := trimmed(raw)
	b := trimmed(interpreted)

	aEmpty := a == ""
	bEmpty := b == ""
	if aEmpty && bEmpty {
		return 1.0, 1.0
	}
	if aEmpty || bEmpty {
		return 0.0, 0.0
	}

	dist := levenshtein.Distance(a, b, nil)
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	text = 1.0 - float64(dist)/float64(maxLen)

	vector = strutil.Similarity(a, b, strmetrics.NewSorensenDice())
	return text, vector
}

// ShouldReview reports whether a field needs human review: an extraction
// error, a missing score, or either score below its threshold all trigger it.
func ShouldReview(text, vector *float64, errorOccurred bool, t Thresholds) bool {
	if errorOccurred {
		return true
	}
	if text == nil || vector == nil {
		return true
	}
	return *text < t.Text || *vector < t.Vector
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
