package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shirabe/internal/journal"
	"github.com/ashita-ai/shirabe/internal/model"
	"github.com/ashita-ai/shirabe/internal/repair"
	"github.com/ashita-ai/shirabe/internal/runlock"
)

// RunContext is the state of one run. The orchestrator creates it, passes it
// by reference through every step, and is its only writer.
type RunContext struct {
	RunID     uuid.UUID
	Input     model.Input
	Policy    repair.Policy
	History   *model.AttemptHistory
	Initial   model.RunConfig
	Config    model.RunConfig
	Dir       string
	StartedAt time.Time
	// ToolCalls is the total used across all attempts so far.
	ToolCalls int64

	planner    *repair.Planner
	journal    *journal.Journal
	lock       *runlock.Keeper
	registered bool // the ledger holds a row for this run

	// Output of the most recent attempt that reached the verifier.
	artifacts model.Artifacts
	reasons   []model.FailReason

	// pending is the remediation that produced Config and has not yet been
	// attached to an attempt.
	pending *model.Remediation
	errs    []*SystemError
}

func (rc *RunContext) abort(op string, err error) {
	rc.errs = append(rc.errs, &SystemError{Op: op, Err: err})
}

func (rc *RunContext) aborted() bool { return len(rc.errs) > 0 }

// StopReason returns why the loop ended, or repair.StopNone while running.
func (rc *RunContext) StopReason() repair.StopReason {
	return rc.planner.StopReason()
}

// Remediations returns every action applied during the run, including one
// applied just before the loop was aborted.
func (rc *RunContext) Remediations() []model.Remediation {
	out := rc.History.Remediations()
	if rc.pending != nil {
		out = append(out, *rc.pending)
	}
	return out
}

// terminal maps the history and stop reason to the run's final status. A run
// where no attempt reached the verifier is needs_retry with VERIFY_NOT_RUN.
func (rc *RunContext) terminal() (status model.RunStatus, gatePassed bool, reasons []model.FailReason) {
	last, ok := rc.History.Last()
	if !ok {
		return model.RunStatusNeedsRetry, false, model.ReasonsFor([]model.FailReasonCode{model.CodeVerifyNotRun})
	}
	status = repair.TerminalStatus(last, rc.StopReason())
	if last.GatePassed {
		return status, true, nil
	}
	return status, false, rc.reasons
}
