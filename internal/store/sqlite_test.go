package store

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testPart(id, name, key, itemType string, age time.Duration) Part {
	return Part{
		ExternalID:   id,
		PartName:     name,
		NameNorm:     name,
		CanonicalKey: key,
		ItemType:     itemType,
		CreatedAt:    baseTime.Add(-age),
	}
}

func TestSQLite_ReserveRange_Sequential(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	start, err := s.ReserveRange(ctx, "PS", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), start)

	start, err = s.ReserveRange(ctx, "PS", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), start)

	start, err = s.ReserveRange(ctx, "STD", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), start, "prefixes are independent")
}

func TestSQLite_ReserveRange_ConcurrentPartition(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	counts := []int{1, 5, 2, 7, 3, 1, 10, 4, 6, 2, 8, 1}
	total := 0
	for _, c := range counts {
		total += c
	}

	type span struct{ start, count int64 }
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		spans []span
	)
	for _, c := range counts {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			start, err := s.ReserveRange(ctx, "PS", c)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			spans = append(spans, span{start, int64(c)})
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	require.Len(t, spans, len(counts))
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	next := int64(1)
	for _, sp := range spans {
		assert.Equal(t, next, sp.start, "ranges must be contiguous and disjoint")
		next = sp.start + sp.count
	}
	assert.Equal(t, int64(total+1), next)
}

func TestSQLite_ResetCounters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.ReserveRange(ctx, "PS", 5)
	require.NoError(t, err)
	_, err = s.ReserveRange(ctx, "STD", 5)
	require.NoError(t, err)

	n, err := s.ResetCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	start, err := s.ReserveRange(ctx, "PS", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), start)
}

func TestSQLite_InsertParts_DuplicateRollsBack(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.InsertParts(ctx, []Part{testPart("PS_000001", "PS_FRAME", "FRAME", "", 0)}))

	err := s.InsertParts(ctx, []Part{
		testPart("PS_000002", "PS_PLATE", "PLATE", "", 0),
		testPart("PS_000001", "PS_FRAME_2", "FRAME_2", "", 0),
	})
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "PS_000001")

	parts, err := s.ListParts(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, parts, 1, "failed batch must not leave partial rows")
	assert.Equal(t, "PS_FRAME", parts[0].PartName)
}

func TestSQLite_InsertParts_Defaults(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	qty := 4
	p := Part{
		ExternalID: "PS_000001",
		PartName:   "PS_FRAME",
		Qty:        &qty,
		Data:       map[string]string{"Material": "S235"},
	}
	require.NoError(t, s.InsertParts(ctx, []Part{p}))

	parts, err := s.ListParts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, parts, 1)

	got := parts[0]
	assert.Equal(t, "PS_000001", got.InternalReference, "internal reference defaults to external id")
	require.NotNil(t, got.Qty)
	assert.Equal(t, 4, *got.Qty)
	assert.Equal(t, map[string]string{"Material": "S235"}, got.Data)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_SearchCandidates(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.InsertParts(ctx, []Part{
		testPart("PS_000001", "PS_FRAME", "FRAME", "Manufactured", 3*time.Hour),
		testPart("PS_000002", "PS_FRAME_LEFT", "FRAME_LEFT", "Bought Part", 2*time.Hour),
		testPart("MD_000001", "MD_BRACKET", "BRACKET", "Manufactured", time.Hour),
		testPart("STD_000001", "STD_WASHER_M6", "WASHER_M6", "Bought Part", 0),
	}))

	t.Run("name substring newest first", func(t *testing.T) {
		got, err := s.SearchCandidates(ctx, CandidateQuery{Name: "frame", Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"PS_000002", "PS_000001"}, externalIDs(got))
	})

	t.Run("type hint sorts first", func(t *testing.T) {
		got, err := s.SearchCandidates(ctx, CandidateQuery{Name: "frame", ItemType: "manufactured", Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"PS_000001", "PS_000002"}, externalIDs(got))
	})

	t.Run("word match tolerates reordering", func(t *testing.T) {
		got, err := s.SearchCandidates(ctx, CandidateQuery{Name: "LEFT FRAME", Limit: 50})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"PS_000001", "PS_000002"}, externalIDs(got))
	})

	t.Run("canonical key matches across prefixes", func(t *testing.T) {
		got, err := s.SearchCandidates(ctx, CandidateQuery{Name: "XX_BRACKET", Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"MD_000001"}, externalIDs(got))
	})

	t.Run("internal reference", func(t *testing.T) {
		got, err := s.SearchCandidates(ctx, CandidateQuery{Name: "zz", InternalReference: "STD_0000", Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []string{"STD_000001"}, externalIDs(got))
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.SearchCandidates(ctx, CandidateQuery{Name: "frame", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("wildcards are literal", func(t *testing.T) {
		got, err := s.SearchCandidates(ctx, CandidateQuery{Name: "%", Limit: 50})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSQLite_SearchCandidatesBatch_Aligned(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.InsertParts(ctx, []Part{
		testPart("PS_000001", "PS_FRAME", "FRAME", "", 0),
		testPart("MD_000001", "MD_BRACKET", "BRACKET", "", 0),
	}))

	got, err := s.SearchCandidatesBatch(ctx, []CandidateQuery{
		{Name: "BRACKET", Limit: 10},
		{Name: "NOTHING HERE", Limit: 10},
		{Name: "FRAME", Limit: 10},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"MD_000001"}, externalIDs(got[0]))
	assert.Empty(t, got[1])
	assert.Equal(t, []string{"PS_000001"}, externalIDs(got[2]))
}

func TestSQLite_UpdateAndDeletePart(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.InsertParts(ctx, []Part{testPart("PS_000001", "PS_FRAME", "FRAME", "", 0)}))

	p := testPart("PS_000001", "PS_FRAME", "FRAME", "Manufactured", 0)
	p.Data = map[string]string{"Supplier": "ACME"}
	updated, err := s.UpdatePart(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Manufactured", updated.ItemType)
	assert.Equal(t, "ACME", updated.Data["Supplier"])

	_, err = s.UpdatePart(ctx, testPart("PS_999999", "X", "X", "", 0))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeletePart(ctx, "PS_000001"))
	assert.ErrorIs(t, s.DeletePart(ctx, "PS_000001"), ErrNotFound)
}

func TestSQLite_Aliases(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.InsertParts(ctx, []Part{
		testPart("PS_000001", "PS_FRAME", "FRAME", "", 0),
		testPart("PS_000002", "PS_FRAME_2", "FRAME_2", "", 0),
	}))
	require.NoError(t, s.PutAliases(ctx, map[string]string{"RAHMEN": "PS_000001"}))
	require.NoError(t, s.PutAliases(ctx, map[string]string{"RAHMEN": "PS_000002"}))

	got, err := s.LookupAliases(ctx, []string{"RAHMEN", "UNKNOWN"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"RAHMEN": "PS_000001"}, got)

	require.NoError(t, s.DeletePart(ctx, "PS_000001"))
	got, err = s.LookupAliases(ctx, []string{"RAHMEN"})
	require.NoError(t, err)
	assert.Empty(t, got, "aliases follow their part")
}

func TestSQLite_Settings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bought Part", "Manufactured"}, cats)

	require.NoError(t, s.AddCategory(ctx, "Assembly"))
	require.NoError(t, s.AddCategory(ctx, "Assembly"))
	require.NoError(t, s.RemoveCategory(ctx, "Manufactured"))
	assert.ErrorIs(t, s.RemoveCategory(ctx, "Manufactured"), ErrNotFound)

	cats, err = s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Assembly", "Bought Part"}, cats)

	prefix, err := s.LastPrefix(ctx, "DEFAULT")
	require.NoError(t, err)
	assert.Empty(t, prefix)

	require.NoError(t, s.SetLastPrefix(ctx, "DEFAULT", "PS"))
	require.NoError(t, s.SetLastPrefix(ctx, "DEFAULT", "MD"))
	prefix, err = s.LastPrefix(ctx, "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "MD", prefix)
}

func externalIDs(parts []Part) []string {
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = p.ExternalID
	}
	return ids
}
