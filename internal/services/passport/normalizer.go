// Package passport canonicalizes handwritten passport identifiers so the
// same document written "N-12 34 56", "n.123456" or "N123456" always maps to
// one matching key. Normalization is pure; the bounds come from config.
package passport

import (
	"regexp"
	"strings"
	"unicode"
)

// Default length bounds for a canonical identifier.
const (
	DefaultMinLength = 5
	DefaultMaxLength = 12
)

// canonicalPattern is the shape of an accepted identifier after cleaning:
// an optional single letter followed by digits.
var canonicalPattern = regexp.MustCompile(`^[A-Z]?\d+$`)

// Normalizer canonicalizes raw passport identifiers.
type Normalizer struct {
	minLen int
	maxLen int
}

// NewNormalizer creates a normalizer with the given length bounds. Zero or
// negative bounds fall back to the defaults.
func NewNormalizer(minLen, maxLen int) *Normalizer {
	if minLen <= 0 {
		minLen = DefaultMinLength
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	return &Normalizer{minLen: minLen, maxLen: maxLen}
}

// Normalize canonicalizes one raw identifier: upper-case, strip separators
// (space, '.', '-', '/', ',' and any other whitespace), then accept only an
// optional leading letter followed by digits, within the length bounds.
// Normalize is idempotent: feeding a canonical value back returns it as-is.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '.', '-', '/', ',':
			continue
		}
		b.WriteRune(r)
	}
	canonical := b.String()
	if canonical == "" || !canonicalPattern.MatchString(canonical) {
		return "", false
	}
	if len(canonical) < n.minLen || len(canonical) > n.maxLen {
		return "", false
	}
	return canonical, true
}

// NormalizeCandidates canonicalizes a candidate list, dropping values that do
// not normalize and de-duplicating while preserving input order. The first
// occurrence of a canonical value wins.
func (n *Normalizer) NormalizeCandidates(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	candidates := make([]string, 0, len(raw))
	for _, r := range raw {
		canonical, ok := n.Normalize(r)
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		candidates = append(candidates, canonical)
	}
	return candidates
}
