package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	counters    int64
	imports     int64
	countersErr error
	calls       []string
	deadline    time.Time
}

func (f *fakeRegistry) ResetCounters(ctx context.Context) (int64, error) {
	f.calls = append(f.calls, "counters")
	f.deadline, _ = ctx.Deadline()
	return f.counters, f.countersErr
}

func (f *fakeRegistry) DiscardAllImports(context.Context) (int64, error) {
	f.calls = append(f.calls, "imports")
	return f.imports, nil
}

func TestResetAll(t *testing.T) {
	reg := &fakeRegistry{counters: 3, imports: 2}
	r := &Resetter{Registry: reg, Timeout: time.Minute}

	res, err := r.ResetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Counters: 3, Imports: 2}, res)
	assert.Equal(t, []string{"counters", "imports"}, reg.calls)
	assert.WithinDuration(t, time.Now().Add(time.Minute), reg.deadline, 5*time.Second)
}

func TestResetAll_StopsOnError(t *testing.T) {
	disabled := errors.New("counter reset is disabled")
	reg := &fakeRegistry{countersErr: disabled}
	r := &Resetter{Registry: reg}

	_, err := r.ResetAll(context.Background())
	assert.ErrorIs(t, err, disabled)
	assert.Equal(t, []string{"counters"}, reg.calls, "sessions survive a failed counter reset")
}

func TestResetAll_DefaultTimeout(t *testing.T) {
	reg := &fakeRegistry{}
	r := &Resetter{Registry: reg}

	_, err := r.ResetAll(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultResetTimeout), reg.deadline, 5*time.Second)
}
