// Package admin provides destructive maintenance operations.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/partregistry/internal/logging"
)

// DefaultResetTimeout is the maximum duration for a reset.
const DefaultResetTimeout = 30 * time.Second

// Registry is what a reset clears.
type Registry interface {
	ResetCounters(ctx context.Context) (int64, error)
	DiscardAllImports(ctx context.Context) (int64, error)
}

// Result reports what a reset removed.
type Result struct {
	Counters int64 `json:"deleted"`
	Imports  int64 `json:"imports_discarded"`
}

// Resetter restarts ID numbering.
type Resetter struct {
	Registry Registry
	Timeout  time.Duration
}

type resetStep struct {
	name string
	fn   func(ctx context.Context) (int64, error)
	into *int64
}

// ResetAll deletes every prefix counter, then drops open import sessions
// whose reserved IDs would otherwise be issued again. This is a destructive
// operation: numbering restarts at 1 for every prefix.
func (r *Resetter) ResetAll(ctx context.Context) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultResetTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res Result
	err := r.runResets(ctx, []resetStep{
		{name: "counters", fn: r.Registry.ResetCounters, into: &res.Counters},
		{name: "imports", fn: r.Registry.DiscardAllImports, into: &res.Imports},
	})
	if err != nil {
		return res, err
	}

	logging.FromContext(ctx).Warn("registry reset",
		"counters_deleted", res.Counters,
		"imports_discarded", res.Imports,
	)
	return res, nil
}

func (r *Resetter) runResets(ctx context.Context, steps []resetStep) error {
	for _, step := range steps {
		n, err := step.fn(ctx)
		if err != nil {
			return fmt.Errorf("reset %s: %w", step.name, err)
		}
		*step.into = n
	}
	return nil
}
