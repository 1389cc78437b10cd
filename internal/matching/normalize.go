// Package matching decides whether an incoming part name refers to a part that
// is already in the catalog.
//
// Everything in this package is pure: no I/O, no shared state, and every
// function is total over arbitrary string input. Callers supply the catalog
// view (an exact alias index plus a bounded candidate set) and get back a
// classification.
package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// PrefixSeparator separates a designer prefix token from the rest of a part
// name, as in "PS_FRAME".
const PrefixSeparator = "_"

// RevisionSeparator joins a canonical name and its revision in a canonical key.
const RevisionSeparator = "|"

// maxPrefixTokenLen is the longest leading token treated as a designer prefix.
const maxPrefixTokenLen = 10

// Normalize returns the canonical spelling of a part name: Unicode NFKC,
// upper case, surrounding whitespace removed. Normalize is idempotent.
func Normalize(name string) string {
	s := norm.NFKC.String(name)
	s = strings.ToUpper(s)
	s = norm.NFKC.String(s)
	return strings.TrimSpace(s)
}

// StripLeadingPrefixToken removes one leading designer prefix token from a
// name ("PS_FRAME" -> "FRAME"). The token must start with a letter, be 1-10
// alphanumeric characters and be followed by a non-empty remainder; otherwise
// the normalized name is returned unchanged.
func StripLeadingPrefixToken(name string) string {
	n := Normalize(name)
	token, rest, found := strings.Cut(n, PrefixSeparator)
	if !found || rest == "" {
		return n
	}
	if !isPrefixToken(token) {
		return n
	}
	return rest
}

// CanonicalKey builds the stable identity used for matching. The item type is
// deliberately not part of the key: operators assign it per file and it may
// differ between imports of the same physical part.
func CanonicalKey(name, revision string) string {
	base := StripLeadingPrefixToken(name)
	if rev := Normalize(revision); rev != "" {
		return base + RevisionSeparator + rev
	}
	return base
}

func isPrefixToken(token string) bool {
	n := 0
	for i, r := range token {
		if i == 0 && !unicode.IsLetter(r) {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		n++
	}
	return n >= 1 && n <= maxPrefixTokenLen
}
