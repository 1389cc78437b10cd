package matching

import "github.com/pmezard/go-difflib/difflib"

// Similarity returns the SequenceMatcher ratio of a against b: twice the
// number of characters in matching blocks divided by the combined length, in
// [0,1]. Two empty strings score 1.
//
// The ratio is not guaranteed to be symmetric. Matching blocks are found by a
// greedy longest-block search, and for b of 200 or more characters popular
// characters in b are treated as junk, so Similarity(a, b) and
// Similarity(b, a) can differ. Callers always pass the query first and the
// catalog value second; suggestion ordering depends on that direction.
func Similarity(a, b string) float64 {
	m := difflib.NewMatcher(splitRunes(a), splitRunes(b))
	return m.Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
