package core

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveIDs_Sequential(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	ids, err := svc.ReserveIDs(ctx, "PS", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"PS_000001", "PS_000002", "PS_000003"}, ids)

	ids, err = svc.ReserveIDs(ctx, " PS ", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"PS_000004", "PS_000005"}, ids)

	ids, err = svc.ReserveIDs(ctx, "MD", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"MD_000001"}, ids, "prefixes are numbered independently")
}

func TestReserveIDs_PadWidth(t *testing.T) {
	svc, _ := newTestService(t, Options{PadWidth: 3})

	ids, err := svc.ReserveIDs(context.Background(), "STD", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"STD_001", "STD_002"}, ids)
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "PS_000042", FormatID("PS", 42, 6))
	assert.Equal(t, "PS_1234567", FormatID("PS", 1234567, 6), "wide numbers are not truncated")
}

func TestReserveIDs_Validation(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	tests := []struct {
		name   string
		prefix string
		count  int
	}{
		{"empty prefix", "", 1},
		{"blank prefix", "   ", 1},
		{"prefix with dash", "P-S", 1},
		{"prefix with underscore", "P_S", 1},
		{"non ascii prefix", "PÅ", 1},
		{"prefix too long", strings.Repeat("A", 21), 1},
		{"zero count", "PS", 0},
		{"negative count", "PS", -3},
		{"count too large", "PS", 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := svc.ReserveIDs(context.Background(), tt.prefix, tt.count)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Nil(t, ids)
		})
	}

	// Nothing was consumed by the rejected calls.
	ids, err := svc.ReserveIDs(context.Background(), "PS", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"PS_000001"}, ids)
}

func TestReserveIDs_ConcurrentCallersNeverOverlap(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	const callers, each = 10, 5
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all []string
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := svc.ReserveIDs(ctx, "PS", each)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			all = append(all, ids...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, all, callers*each)
	seen := make(map[string]bool, len(all))
	for _, id := range all {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	for n := 1; n <= callers*each; n++ {
		assert.True(t, seen[FormatID("PS", int64(n), 6)], "missing PS %d", n)
	}
}

func TestResetCounters(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled by default", func(t *testing.T) {
		svc, _ := newTestService(t, Options{})
		_, err := svc.ResetCounters(ctx)
		assert.ErrorIs(t, err, ErrResetDisabled)
	})

	t.Run("restarts numbering", func(t *testing.T) {
		svc, _ := newTestService(t, Options{AllowReset: true})
		_, err := svc.ReserveIDs(ctx, "PS", 4)
		require.NoError(t, err)
		_, err = svc.ReserveIDs(ctx, "MD", 1)
		require.NoError(t, err)

		n, err := svc.ResetCounters(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		ids, err := svc.ReserveIDs(ctx, "PS", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"PS_000001"}, ids)
	})
}
