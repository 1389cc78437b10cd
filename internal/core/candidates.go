package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/partregistry/internal/logging"
	"github.com/JonMunkholm/partregistry/internal/store"
)

// Candidate query limits.
const (
	DefaultCandidateLimit = 50
	MaxCandidateLimit     = 200

	maxCandidateNameLen = 500
	maxReferenceLen     = 200
	maxItemTypeLen      = 100
)

// CandidateQuery is one lookup against the catalog. Limit zero means the
// configured default.
type CandidateQuery struct {
	Name              string `json:"name"`
	InternalReference string `json:"internal_reference"`
	ItemType          string `json:"item_type"`
	Limit             int    `json:"limit"`
}

// Candidates returns catalog parts that could be the same part as q.Name,
// parts whose item type equals q.ItemType first.
//
// A backend failure is logged and yields an empty set: without candidates
// every row classifies as NEW and the import can still be reviewed. Invalid
// queries are still errors.
func (s *Service) Candidates(ctx context.Context, q CandidateQuery) ([]store.Part, error) {
	sq, err := s.candidateQuery(q, MaxCandidateLimit)
	if err != nil {
		return nil, err
	}

	parts, err := s.store.SearchCandidates(ctx, sq)
	if err != nil {
		logging.FromContext(ctx).Warn("candidate search failed, returning no candidates",
			"name", sq.Name, "error", err)
		return []store.Part{}, nil
	}
	return parts, nil
}

// CandidatesBulk runs several queries at once. The result is aligned with
// queries; each query's limit is capped by globalLimit.
func (s *Service) CandidatesBulk(ctx context.Context, queries []store.CandidateQuery, globalLimit int) ([][]store.Part, error) {
	if globalLimit == 0 {
		globalLimit = s.opts.CandidateLimit
	}
	if err := checkRange("global_limit", globalLimit, 1, MaxCandidateLimit); err != nil {
		return nil, err
	}

	qs := make([]store.CandidateQuery, len(queries))
	for i, q := range queries {
		sq, err := s.candidateQuery(CandidateQuery{
			Name:              q.Name,
			InternalReference: q.InternalReference,
			ItemType:          q.ItemType,
			Limit:             q.Limit,
		}, globalLimit)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		qs[i] = sq
	}

	empty := func() [][]store.Part {
		out := make([][]store.Part, len(qs))
		for i := range out {
			out[i] = []store.Part{}
		}
		return out
	}
	if len(qs) == 0 {
		return empty(), nil
	}

	results, err := s.store.SearchCandidatesBatch(ctx, qs)
	if err == nil && len(results) != len(qs) {
		err = fmt.Errorf("store returned %d result sets for %d queries", len(results), len(qs))
	}
	if err != nil {
		logging.FromContext(ctx).Warn("bulk candidate search failed, returning no candidates",
			"queries", len(qs), "error", err)
		return empty(), nil
	}
	return results, nil
}

// LookupAliases returns the known alias targets among keys. Like candidate
// search it degrades to an empty map when the store fails.
func (s *Service) LookupAliases(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	aliases, err := s.store.LookupAliases(ctx, keys)
	if err != nil {
		logging.FromContext(ctx).Warn("alias lookup failed, continuing without aliases",
			"keys", len(keys), "error", err)
		return map[string]string{}, nil
	}
	return aliases, nil
}

// candidateQuery validates q and resolves its limit against capLimit and
// the configured maximum.
func (s *Service) candidateQuery(q CandidateQuery, capLimit int) (store.CandidateQuery, error) {
	name := strings.TrimSpace(q.Name)
	ref := strings.TrimSpace(q.InternalReference)
	itemType := strings.TrimSpace(q.ItemType)

	if err := checkLen("name", name, 1, maxCandidateNameLen); err != nil {
		return store.CandidateQuery{}, err
	}
	if err := checkLen("internal_reference", ref, 0, maxReferenceLen); err != nil {
		return store.CandidateQuery{}, err
	}
	if err := checkLen("item_type", itemType, 0, maxItemTypeLen); err != nil {
		return store.CandidateQuery{}, err
	}

	limit := q.Limit
	if limit == 0 {
		limit = s.opts.CandidateLimit
	}
	if err := checkRange("limit", limit, 1, MaxCandidateLimit); err != nil {
		return store.CandidateQuery{}, err
	}
	limit = min(limit, capLimit, s.opts.CandidateMax)

	return store.CandidateQuery{
		Name:              name,
		InternalReference: ref,
		ItemType:          itemType,
		Limit:             limit,
	}, nil
}
