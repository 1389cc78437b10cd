// Package pipeline turns a batch of incoming bill-of-materials rows into
// classified rows, carries them through human review and assigns freshly
// reserved identifiers to the ones that end up new.
//
// Row lifecycle:
//
//	NEW            -> CREATED        (AssignIDs)
//	POSSIBLE_MATCH -> EXISTING       (Decide with a suggested external ID)
//	POSSIBLE_MATCH -> NEW            (Decide with DecisionReject)
//	EXISTING       terminal, never exported or given a new ID
//
// The classifier never resolves a possible match on its own.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/partregistry/internal/matching"
)

// DecisionReject is the match decision that treats a possible match as new.
const DecisionReject = "REJECT"

var (
	// ErrInvalidDecision is returned when a decision does not apply to a row.
	ErrInvalidDecision = errors.New("invalid match decision")

	// ErrNotReady is returned when rows fail the commit preconditions.
	ErrNotReady = errors.New("rows not ready to commit")
)

// Input is one row as read from a bill of materials.
type Input struct {
	Qty         float64 `json:"qty"`
	Name        string  `json:"name"`
	ItemType    string  `json:"item_type"`
	Revision    string  `json:"revision,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Row is one processed row. ExternalID is empty until the row is resolved
// to an existing part or given a new ID.
type Row struct {
	Qty           float64               `json:"qty"`
	Name          string                `json:"name"`
	ItemType      string                `json:"item_type"`
	Revision      string                `json:"revision,omitempty"`
	Description   string                `json:"description,omitempty"`
	Price         *float64              `json:"price,omitempty"`
	Status        matching.Status       `json:"status"`
	ExternalID    string                `json:"external_id,omitempty"`
	CanonicalKey  string                `json:"canonical_key"`
	Suggestions   []matching.Suggestion `json:"suggestions,omitempty"`
	MatchDecision string                `json:"match_decision,omitempty"`
	IsStandard    bool                  `json:"is_standard"`
	Included      bool                  `json:"included"`
}

// NewRow builds an unclassified row from in. The row starts NEW and included.
func NewRow(in Input) Row {
	return Row{
		Qty:          in.Qty,
		Name:         matching.Normalize(in.Name),
		ItemType:     strings.TrimSpace(in.ItemType),
		Revision:     strings.TrimSpace(in.Revision),
		Description:  in.Description,
		Status:       matching.StatusNew,
		CanonicalKey: matching.CanonicalKey(in.Name, in.Revision),
		Included:     true,
	}
}

// apply records a classification result on the row.
func (r *Row) apply(res matching.Result) {
	r.Status = res.Status
	r.ExternalID = res.ExternalID
	r.Suggestions = res.Suggestions
	r.MatchDecision = ""
	r.Included = res.Status != matching.StatusExisting
}

// Decide applies a human review decision to a possible match:
//
//   - DecisionReject makes the row NEW, without an ID, and includes it
//   - one of the suggested external IDs binds the row to that part, makes it
//     EXISTING and excludes it
//   - "" withdraws an earlier decision and puts the row back under review
//
// Only rows that were classified as possible matches accept decisions, and
// never after they have been given a new ID.
func (r *Row) Decide(decision string) error {
	if r.Status == matching.StatusCreated {
		return fmt.Errorf("%w: row already has new id %s", ErrInvalidDecision, r.ExternalID)
	}
	if r.Status != matching.StatusPossibleMatch && r.MatchDecision == "" {
		return fmt.Errorf("%w: row is %s, not under review", ErrInvalidDecision, r.Status)
	}

	decision = strings.TrimSpace(decision)
	switch {
	case decision == "":
		r.Status = matching.StatusPossibleMatch
		r.ExternalID = ""
		r.MatchDecision = ""
		r.Included = true
	case strings.EqualFold(decision, DecisionReject):
		r.Status = matching.StatusNew
		r.ExternalID = ""
		r.MatchDecision = DecisionReject
		r.Included = true
	case r.suggests(decision):
		r.Status = matching.StatusExisting
		r.ExternalID = decision
		r.MatchDecision = decision
		r.Included = false
	default:
		return fmt.Errorf("%w: %q is not one of the suggestions", ErrInvalidDecision, decision)
	}
	return nil
}

func (r *Row) suggests(externalID string) bool {
	for _, s := range r.Suggestions {
		if s.ExternalID == externalID {
			return true
		}
	}
	return false
}

// Rename replaces the part name and recomputes its canonical key. The row
// keeps its status and ID.
func (r *Row) Rename(name string) {
	r.Name = matching.Normalize(name)
	r.CanonicalKey = matching.CanonicalKey(r.Name, r.Revision)
}

// needsID reports whether AssignIDs should give the row a new ID.
func (r *Row) needsID() bool {
	if !r.Included || r.Status != matching.StatusNew {
		return false
	}
	id := strings.TrimSpace(r.ExternalID)
	return id == "" || strings.EqualFold(id, string(matching.StatusNew))
}

// key is the identity rows share a new ID under.
func (r *Row) key() string {
	if r.CanonicalKey != "" {
		return r.CanonicalKey
	}
	return matching.CanonicalKey(r.Name, r.Revision)
}
