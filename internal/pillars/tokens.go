package pillars

import (
	"regexp"
	"strings"
	"unicode"
)

// TokenSet is a set of lower-cased alphanumeric tokens
type TokenSet map[string]struct{}

// Tokenize splits text into lower-cased alphanumeric tokens of at least minLen runes
func Tokenize(text string, minLen int) TokenSet {
	set := make(TokenSet)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len([]rune(f)) >= minLen {
			set[f] = struct{}{}
		}
	}
	return set
}

// Overlap counts tokens present in both sets
func (t TokenSet) Overlap(other TokenSet) int {
	small, large := t, other
	if len(small) > len(large) {
		small, large = large, small
	}
	n := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			n++
		}
	}
	return n
}

// Union returns a new set with the tokens of both
func (t TokenSet) Union(other TokenSet) TokenSet {
	out := make(TokenSet, len(t)+len(other))
	for tok := range t {
		out[tok] = struct{}{}
	}
	for tok := range other {
		out[tok] = struct{}{}
	}
	return out
}

var figures = regexp.MustCompile(`(?i)[$€£]?\d[\d.,]*\s*(%|percent\b|x\b|k\b|m\b|bn\b)?`)

// StripFigures removes numbers, percentages and amounts from text. Framing
// pillars must not carry numeric or outcome claims.
func StripFigures(s string) string {
	return strings.Join(strings.Fields(figures.ReplaceAllString(s, "")), " ")
}
