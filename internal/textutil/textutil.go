// Package textutil cleans scraped text and validates/canonicalizes the
// identifiers and addresses that enter the tracker.
package textutil

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Unicode BiDi control characters, these show up around the labels on product pages.
var bidiControls = map[rune]struct{}{
	'\u061C': {}, // ARABIC LETTER MARK
	'\u200E': {}, // LEFT-TO-RIGHT MARK
	'\u200F': {}, // RIGHT-TO-LEFT MARK
	'\u202A': {}, // LEFT-TO-RIGHT EMBEDDING
	'\u202B': {}, // RIGHT-TO-LEFT EMBEDDING
	'\u202C': {}, // POP DIRECTIONAL FORMATTING
	'\u202D': {}, // LEFT-TO-RIGHT OVERRIDE
	'\u202E': {}, // RIGHT-TO-LEFT OVERRIDE
	'\u2066': {}, // LEFT-TO-RIGHT ISOLATE
	'\u2067': {}, // RIGHT-TO-LEFT ISOLATE
	'\u2068': {}, // FIRST STRONG ISOLATE
	'\u2069': {}, // POP DIRECTIONAL ISOLATE
}

// CleanText removes BiDi control characters, applies NFKC normalization, collapses
// every whitespace run into a single space and trims the result.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	s = strings.Map(func(r rune) rune {
		if _, ok := bidiControls[r]; ok {
			return -1
		}
		return r
	}, s)
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

var emailRegex = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

// IsValidEmail is a conservative `local@domain.tld` check.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}
	return emailRegex.MatchString(email)
}

// ParseURL strips surrounding quotes (urls pasted into a shell often keep them)
// before parsing.
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"'`)
	return url.Parse(raw)
}
