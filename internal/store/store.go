// Package store persists the part catalog, the per-prefix ID counters and the
// small settings tables that support imports.
//
// Two backends share one shape: Postgres (pgx) for shared deployments and
// SQLite (modernc.org/sqlite) for single-user and local use. Neither backend
// knows anything about matching; callers compute normalized names and
// canonical keys before writing.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/JonMunkholm/partregistry/internal/matching"
)

var (
	// ErrDuplicate is returned when a write would create a second row with
	// the same unique key (external_id).
	ErrDuplicate = errors.New("duplicate key")

	// ErrNotFound is returned when an update or delete matches no row.
	ErrNotFound = errors.New("not found")
)

// Candidate search limits.
const (
	// MaxCandidateWords caps how many individual words of a name are matched.
	MaxCandidateWords = 8

	// MinCandidateWordLen is the shortest word matched on its own.
	MinCandidateWordLen = 3
)

// DefaultCategories seeds an empty item category list.
var DefaultCategories = []string{"Manufactured", "Bought Part"}

// Part is one catalog record.
type Part struct {
	ExternalID        string            `json:"external_id"`
	PartName          string            `json:"part_name"`
	NameNorm          string            `json:"name_norm"`
	CanonicalKey      string            `json:"canonical_key"`
	InternalReference string            `json:"internal_reference"`
	ItemType          string            `json:"item_type"`
	Revision          string            `json:"revision"`
	Prefix            string            `json:"prefix"`
	Qty               *int              `json:"qty,omitempty"`
	Status            string            `json:"status"`
	Data              map[string]string `json:"data"`
	CreatedBy         string            `json:"created_by"`
	CreatedAt         time.Time         `json:"created_at"`
}

// MatchRecord returns the view of p used by the classifier.
func (p Part) MatchRecord() matching.Record {
	return matching.Record{
		ExternalID:   p.ExternalID,
		Name:         p.PartName,
		NameNorm:     p.NameNorm,
		CanonicalKey: p.CanonicalKey,
	}
}

// CandidateQuery describes one candidate search. Limit must already be
// validated by the caller.
type CandidateQuery struct {
	Name              string `json:"name"`
	InternalReference string `json:"internal_reference,omitempty"`
	ItemType          string `json:"item_type,omitempty"`
	Limit             int    `json:"limit,omitempty"`
}

const partColumns = `external_id, part_name, name_norm, canonical_key, internal_reference,
	item_type, revision, prefix, qty, status, data, created_by, created_at`

// dialect captures the SQL differences between the two backends.
type dialect struct {
	like        string
	placeholder func(n int) string
}

var (
	postgresDialect = dialect{
		like:        "ILIKE",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
	sqliteDialect = dialect{
		like:        "LIKE",
		placeholder: func(int) string { return "?" },
	}
)

// buildCandidateQuery builds a deliberately broad search: any of reference,
// whole name, canonical key or individual words may match. Rows whose item
// type equals the hint sort first, then newest first. Scoring is left to the
// classifier.
func buildCandidateQuery(d dialect, q CandidateQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}
	likeCond := func(column, term string) string {
		return fmt.Sprintf(`%s %s %s ESCAPE '\'`, column, d.like, arg(containsPattern(term)))
	}

	if ref := strings.TrimSpace(q.InternalReference); ref != "" {
		conds = append(conds, likeCond("internal_reference", ref), likeCond("external_id", ref))
	}

	nameNorm := matching.Normalize(q.Name)
	if nameNorm != "" {
		conds = append(conds, likeCond("name_norm", nameNorm))
	}
	if key := matching.CanonicalKey(q.Name, ""); key != "" && key != nameNorm {
		conds = append(conds, likeCond("canonical_key", key))
	}
	for _, w := range candidateWords(q.Name) {
		conds = append(conds, likeCond("name_norm", w))
	}

	if len(conds) == 0 {
		// Nothing to search for; keep the statement valid and empty.
		conds = append(conds, "1 = 0")
	}

	var order []string
	if hint := strings.TrimSpace(q.ItemType); hint != "" {
		order = append(order, fmt.Sprintf("CASE WHEN LOWER(item_type) = LOWER(%s) THEN 0 ELSE 1 END", arg(hint)))
	}
	order = append(order, "created_at DESC", "external_id")

	sql := fmt.Sprintf(`SELECT %s FROM parts WHERE %s ORDER BY %s LIMIT %s`,
		partColumns,
		strings.Join(conds, " OR "),
		strings.Join(order, ", "),
		arg(q.Limit),
	)
	return sql, args
}

// candidateWords splits a normalized name into words worth matching on their
// own, so reordered or partial names still find each other.
func candidateWords(name string) []string {
	fields := strings.FieldsFunc(matching.Normalize(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < MinCandidateWordLen {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		words = append(words, f)
		if len(words) == MaxCandidateWords {
			break
		}
	}
	return words
}

// containsPattern wraps term for a substring LIKE match with '\' as escape.
func containsPattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// prepareInsert fills defaults a new catalog row must carry.
func prepareInsert(p Part, now time.Time) Part {
	if p.InternalReference == "" {
		p.InternalReference = p.ExternalID
	}
	if p.Data == nil {
		p.Data = map[string]string{}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	return p
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
