package matching

import (
	"fmt"
	"sort"
)

// Status is the outcome of classifying one incoming part name.
type Status string

const (
	StatusNew           Status = "NEW"
	StatusExisting      Status = "EXISTING"
	StatusPossibleMatch Status = "POSSIBLE_MATCH"
	// StatusCreated marks a NEW row that has been given a freshly reserved ID.
	// The classifier never returns it.
	StatusCreated Status = "CREATED"
)

// Default classification parameters.
const (
	DefaultThreshold      = 0.80
	DefaultMaxSuggestions = 5
)

// Record is the catalog view the classifier needs for one part.
type Record struct {
	ExternalID   string
	Name         string
	NameNorm     string
	CanonicalKey string
}

// Registry is what a name is classified against: an exact alias index and a
// list of candidate records, usually a bounded candidate set for one query.
type Registry struct {
	Index      *Index
	Candidates []Record
}

// Options tunes classification. Non-positive values fall back to defaults.
type Options struct {
	Threshold      float64
	MaxSuggestions int
}

// Suggestion is a ranked possible match offered for human review.
type Suggestion struct {
	ExternalID  string  `json:"external_id"`
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
}

// Result is the classification of one name.
type Result struct {
	Status      Status
	ExternalID  string
	Suggestions []Suggestion
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = DefaultMaxSuggestions
	}
	return o
}

// Classify decides whether name denotes an existing part, a possible match
// needing review, or a new part. The first rule that applies wins:
//
//  1. the normalized name or canonical key is in the alias index
//  2. a candidate has the same canonical key
//  3. a candidate has the same normalized name
//  4. candidates whose similarity to the canonical key is >= threshold
//     become suggestions, best first
//  5. otherwise the name is new
//
// Classify never mutates reg and always returns the same result for the same
// input.
func Classify(name string, reg Registry, opts Options) Result {
	opts = opts.withDefaults()
	nameNorm := Normalize(name)
	key := CanonicalKey(name, "")

	if id, ok := reg.Index.Lookup(nameNorm); ok {
		return Result{Status: StatusExisting, ExternalID: id}
	}
	if id, ok := reg.Index.Lookup(key); ok {
		return Result{Status: StatusExisting, ExternalID: id}
	}

	if key != "" {
		for _, c := range reg.Candidates {
			if c.CanonicalKey != "" && c.CanonicalKey == key {
				return Result{Status: StatusExisting, ExternalID: c.ExternalID}
			}
		}
	}

	if nameNorm != "" {
		for _, c := range reg.Candidates {
			if c.NameNorm != "" && c.NameNorm == nameNorm {
				return Result{Status: StatusExisting, ExternalID: c.ExternalID}
			}
		}
	}

	suggestions := make([]Suggestion, 0)
	for _, c := range reg.Candidates {
		target := c.CanonicalKey
		if target == "" {
			target = c.NameNorm
		}
		if target == "" {
			continue
		}
		score := Similarity(key, target)
		if score < opts.Threshold {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			ExternalID:  c.ExternalID,
			DisplayName: c.displayName(),
			Score:       score,
			Reason:      fmt.Sprintf("name similarity %.2f", score),
		})
	}

	if len(suggestions) == 0 {
		return Result{Status: StatusNew}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > opts.MaxSuggestions {
		suggestions = suggestions[:opts.MaxSuggestions]
	}
	return Result{Status: StatusPossibleMatch, Suggestions: suggestions}
}

func (r Record) displayName() string {
	if r.NameNorm != "" {
		return r.NameNorm
	}
	return r.Name
}
