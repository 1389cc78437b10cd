package pipeline

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/partregistry/internal/matching"
	"github.com/JonMunkholm/partregistry/internal/store"
)

// DefaultCandidateLimit bounds the candidate set fetched per distinct name.
const DefaultCandidateLimit = 50

// Retriever supplies candidates and known aliases for a batch of rows.
type Retriever interface {
	CandidatesBulk(ctx context.Context, queries []store.CandidateQuery, globalLimit int) ([][]store.Part, error)
	LookupAliases(ctx context.Context, keys []string) (map[string]string, error)
}

// Options tunes Process.
type Options struct {
	// Prefix is the naming series new parts from this batch will be issued
	// under. Rows sharing a canonical key and prefix share one candidate query.
	Prefix         string
	Threshold      float64
	MaxSuggestions int
	CandidateLimit int
}

type queryKey struct {
	canonicalKey string
	prefix       string
}

// Process normalizes and classifies inputs. It fetches candidates once per
// distinct (canonical key, prefix) pair in a single bulk request and checks
// every normalized name and key against the stored aliases. Rows that already
// exist start excluded.
func Process(ctx context.Context, r Retriever, inputs []Input, opts Options) ([]Row, error) {
	limit := opts.CandidateLimit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	rows := make([]Row, len(inputs))
	slot := make([]int, len(inputs))
	slots := make(map[queryKey]int)
	queries := make([]store.CandidateQuery, 0, len(inputs))
	aliasKeys := make([]string, 0, 2*len(inputs))
	seenAlias := make(map[string]struct{}, 2*len(inputs))

	addAliasKey := func(k string) {
		if k == "" {
			return
		}
		if _, ok := seenAlias[k]; ok {
			return
		}
		seenAlias[k] = struct{}{}
		aliasKeys = append(aliasKeys, k)
	}

	for i, in := range inputs {
		rows[i] = NewRow(in)
		slot[i] = -1
		if rows[i].Name == "" {
			continue
		}

		addAliasKey(rows[i].Name)
		addAliasKey(matching.CanonicalKey(rows[i].Name, ""))

		qk := queryKey{canonicalKey: rows[i].CanonicalKey, prefix: opts.Prefix}
		if n, ok := slots[qk]; ok {
			slot[i] = n
			continue
		}
		slots[qk] = len(queries)
		slot[i] = len(queries)
		queries = append(queries, store.CandidateQuery{
			Name:     rows[i].Name,
			ItemType: rows[i].ItemType,
			Limit:    limit,
		})
	}

	var candidates [][]store.Part
	if len(queries) > 0 {
		var err error
		candidates, err = r.CandidatesBulk(ctx, queries, limit)
		if err != nil {
			return nil, fmt.Errorf("retrieve candidates: %w", err)
		}
		if len(candidates) != len(queries) {
			return nil, fmt.Errorf("retrieve candidates: got %d result sets for %d queries", len(candidates), len(queries))
		}
	}

	var index *matching.Index
	if len(aliasKeys) > 0 {
		aliases, err := r.LookupAliases(ctx, aliasKeys)
		if err != nil {
			return nil, fmt.Errorf("lookup aliases: %w", err)
		}
		index = matching.NewIndexFromAliases(aliases)
	}

	records := make([][]matching.Record, len(candidates))
	for n, parts := range candidates {
		records[n] = make([]matching.Record, len(parts))
		for j, p := range parts {
			records[n][j] = p.MatchRecord()
		}
	}

	classifyOpts := matching.Options{Threshold: opts.Threshold, MaxSuggestions: opts.MaxSuggestions}
	for i := range rows {
		reg := matching.Registry{Index: index}
		if slot[i] >= 0 {
			reg.Candidates = records[slot[i]]
		}
		rows[i].apply(matching.Classify(rows[i].Name, reg, classifyOpts))
	}
	return rows, nil
}
