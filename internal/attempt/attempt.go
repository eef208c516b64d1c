// Package attempt defines the contract between the repair loop and the
// collaborator that runs one attempt, plus the tool-call budget shared by
// that collaborator's concurrent workers.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ashita-ai/shirabe/internal/model"
)

// ErrBudgetExhausted is returned by ToolBudget.Spend once the ceiling is
// reached. Workers treat it as "stop issuing tool calls", not as a crash.
var ErrBudgetExhausted = errors.New("attempt: tool-call budget exhausted")

// Request is everything a runner needs for one attempt.
type Request struct {
	RunID        uuid.UUID
	AttemptIndex int
	Input        model.Input
	Config       model.RunConfig
	// Budget is shared by every worker inside the attempt. Never nil.
	Budget *ToolBudget
}

// Output is what one completed attempt produced. A runner returns only after
// every sub-stage has finished; partial output is never evaluated.
type Output struct {
	Artifacts  model.Artifacts
	RawMetrics map[string]float64
}

// Runner runs one attempt. Errors are unrecoverable collaborator failures
// and abort the run; model-stage failures the loop can repair belong in
// Artifacts.StageErrors instead.
type Runner interface {
	RunAttempt(ctx context.Context, req Request) (Output, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request) (Output, error)

// RunAttempt calls f.
func (f RunnerFunc) RunAttempt(ctx context.Context, req Request) (Output, error) {
	return f(ctx, req)
}

// ToolBudget is an atomic tool-call counter with an optional ceiling. It is
// safe for concurrent use.
type ToolBudget struct {
	used    atomic.Int64
	ceiling int64
}

// NewToolBudget returns a budget. A ceiling of zero or less is unbounded.
func NewToolBudget(ceiling int64) *ToolBudget {
	return &ToolBudget{ceiling: ceiling}
}

// Spend records n tool calls. It fails without recording when the calls
// would exceed the ceiling.
func (b *ToolBudget) Spend(n int64) error {
	for {
		cur := b.used.Load()
		next := cur + n
		if b.ceiling > 0 && next > b.ceiling {
			return fmt.Errorf("%w: %d used, %d requested, ceiling %d", ErrBudgetExhausted, cur, n, b.ceiling)
		}
		if b.used.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Record adds n tool calls unconditionally. Runners use it for calls that
// already happened, so usage can exceed the ceiling and be reported.
func (b *ToolBudget) Record(n int64) {
	b.used.Add(n)
}

// Used returns the calls recorded so far.
func (b *ToolBudget) Used() int64 { return b.used.Load() }

// Ceiling returns the configured ceiling, or 0 when unbounded.
func (b *ToolBudget) Ceiling() int64 {
	if b.ceiling < 0 {
		return 0
	}
	return b.ceiling
}

// Remaining returns calls left before the ceiling, or -1 when unbounded.
func (b *ToolBudget) Remaining() int64 {
	if b.ceiling <= 0 {
		return -1
	}
	return max(b.ceiling-b.used.Load(), 0)
}
