// Package serp turns a captured search-results document into an ordered list
// of classified entries. It is pure: no browser, no network — callers hand it
// serialized HTML, which keeps extraction deterministic and testable while
// the platform's markup keeps moving underneath.
package serp

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a business name for equality comparison: every rune
// that is not a Unicode letter or digit is dropped, the rest is lowercased.
// Matching is exact equality of normalized forms — no substring or fuzzy
// matching. Partial matches credited the wrong branch of franchises that
// share a name prefix, so a missed match is preferred over a wrong one.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
