// Package identity normalizes and fuzzily matches the inconsistent
// identity forms a desktop mailbox exposes: SMTP addresses, internal
// directory pseudo-addresses, display names, or bare names with no
// address at all.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes free-text names for comparison: lowercase,
// decompose accented characters and strip the combining marks, collapse
// whitespace, trim. Total; empty input yields "".
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeAddress canonicalizes email addresses. Addresses are not
// accent-sensitive in practice, so this is just lowercase + trim.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// localPart returns the part of an address before the @, or the whole
// string when no @ is present (internal directory forms).
func localPart(addr string) string {
	if i := strings.Index(addr, "@"); i >= 0 {
		return addr[:i]
	}
	return addr
}

// domainPart returns the part after the @, or "" when absent.
func domainPart(addr string) string {
	if i := strings.Index(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// dotTokens splits a local part on dots, dropping empty segments.
func dotTokens(local string) []string {
	var tokens []string
	for _, t := range strings.Split(local, ".") {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// words tokenizes a normalized name, keeping only words of at least
// minLen characters.
func words(name string, minLen int) []string {
	var out []string
	for _, w := range strings.Fields(name) {
		if len(w) >= minLen {
			out = append(out, w)
		}
	}
	return out
}
