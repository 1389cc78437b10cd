package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/partregistry/internal/matching"
)

// Reserver hands out contiguous blocks of new identifiers for a prefix.
type Reserver interface {
	ReserveIDs(ctx context.Context, prefix string, count int) ([]string, error)
}

// AssignResult counts what AssignIDs did.
type AssignResult struct {
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
	Reserved int `json:"reserved"`
}

type idKey struct {
	key    string
	prefix string
}

// AssignIDs gives every included NEW row without an ID a freshly reserved
// one. Rows sharing a canonical key and prefix are the same new part and get
// the same ID, so exactly one ID is reserved per distinct pair. Standard rows
// are issued under standardPrefix, the rest under regularPrefix.
//
// All reservations happen before any row changes; on error no row is
// modified, although IDs already reserved for other prefixes stay consumed.
func AssignIDs(ctx context.Context, res Reserver, rows []Row, regularPrefix, standardPrefix string) (AssignResult, error) {
	regular, err := NormalizePrefix(regularPrefix)
	if err != nil {
		return AssignResult{}, err
	}
	standard, err := NormalizePrefix(standardPrefix)
	if err != nil {
		return AssignResult{}, err
	}

	prefixOf := func(r *Row) string {
		if r.IsStandard {
			return standard
		}
		return regular
	}

	var order []string
	keysByPrefix := make(map[string][]idKey)
	ids := make(map[idKey]string)
	for i := range rows {
		r := &rows[i]
		if !r.needsID() || r.Name == "" {
			continue
		}
		k := idKey{key: r.key(), prefix: prefixOf(r)}
		if _, ok := ids[k]; ok {
			continue
		}
		ids[k] = ""
		if _, ok := keysByPrefix[k.prefix]; !ok {
			order = append(order, k.prefix)
		}
		keysByPrefix[k.prefix] = append(keysByPrefix[k.prefix], k)
	}

	result := AssignResult{}
	for _, prefix := range order {
		keys := keysByPrefix[prefix]
		got, err := res.ReserveIDs(ctx, prefix, len(keys))
		if err != nil {
			return AssignResult{}, fmt.Errorf("reserve ids for %s: %w", prefix, err)
		}
		if len(got) != len(keys) {
			return AssignResult{}, fmt.Errorf("reserve ids for %s: got %d ids, expected %d", prefix, len(got), len(keys))
		}
		for n, k := range keys {
			ids[k] = got[n]
		}
		result.Reserved += len(got)
	}

	for i := range rows {
		r := &rows[i]
		if !r.needsID() || r.Name == "" {
			result.Skipped++
			continue
		}
		r.ExternalID = ids[idKey{key: r.key(), prefix: prefixOf(r)}]
		r.Status = matching.StatusCreated
		result.Assigned++
	}
	return result, nil
}

// Problem explains why one row blocks a commit.
type Problem struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// NotReadyError lists every row that blocks a commit.
type NotReadyError struct {
	Problems []Problem
}

func (e *NotReadyError) Error() string {
	if len(e.Problems) == 1 {
		p := e.Problems[0]
		return fmt.Sprintf("row %d: %s", p.Row, p.Reason)
	}
	return fmt.Sprintf("%d rows not ready to commit (first: row %d: %s)",
		len(e.Problems), e.Problems[0].Row, e.Problems[0].Reason)
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// ValidateCommit checks that every included row can be written to the
// catalog: reviewed, not an existing part, with an ID and an item type.
func ValidateCommit(rows []Row) error {
	var problems []Problem
	for i, r := range rows {
		if !r.Included {
			continue
		}
		switch {
		case r.Status == matching.StatusPossibleMatch:
			problems = append(problems, Problem{Row: i, Reason: "possible match has not been reviewed"})
		case r.Status == matching.StatusExisting:
			problems = append(problems, Problem{Row: i, Reason: fmt.Sprintf("part already exists as %s", r.ExternalID)})
		case strings.TrimSpace(r.ExternalID) == "":
			problems = append(problems, Problem{Row: i, Reason: "missing external id"})
		case strings.TrimSpace(r.ItemType) == "":
			problems = append(problems, Problem{Row: i, Reason: "missing item type"})
		}
	}
	if len(problems) > 0 {
		return &NotReadyError{Problems: problems}
	}
	return nil
}
