package repair

import (
	"time"

	"github.com/ashita-ai/shirabe/internal/model"
)

// StopReason names why the repair loop ended.
type StopReason string

const (
	StopNone                StopReason = ""
	StopPassed              StopReason = "gate_passed"
	StopFatal               StopReason = "fatal_signal"
	StopExhausted           StopReason = "no_applicable_action"
	StopMaxAttempts         StopReason = "max_attempts"
	StopMaxWallTime         StopReason = "max_wall_time"
	StopMaxToolCalls        StopReason = "max_tool_calls"
	StopNoImprovement       StopReason = "consecutive_no_improvement"
	StopSameFailureRepeated StopReason = "same_failure_repeated"
	StopSystemError         StopReason = "system_error"
)

// Budget is the loop's consumption so far.
type Budget struct {
	Elapsed   time.Duration
	ToolCalls int64
}

// CheckStop evaluates the policy's stop conditions against the history and
// budget. The planner calls it before every attempt after the first. The
// first firing condition wins, in the order listed in StopReason.
func CheckStop(p Policy, h *model.AttemptHistory, b Budget) StopReason {
	switch {
	case h.Len() >= p.MaxAttempts:
		return StopMaxAttempts
	case b.Elapsed >= p.MaxWallTime():
		return StopMaxWallTime
	case b.ToolCalls >= p.MaxToolCalls:
		return StopMaxToolCalls
	case noImprovement(h, p.StopOn.ConsecutiveNoImprovement):
		return StopNoImprovement
	case sameFailureRepeated(h, p.StopOn.SameFailureRepeated):
		return StopSameFailureRepeated
	}
	return StopNone
}

// noImprovement reports whether the last n attempts all failed and their
// fail-reason counts never decreased.
func noImprovement(h *model.AttemptHistory, n int) bool {
	if n <= 0 || h.Len() < n {
		return false
	}
	window := h.Tail(n)
	for i, a := range window {
		if !a.Failed() {
			return false
		}
		if i > 0 && len(a.FailReasonCodes) < len(window[i-1].FailReasonCodes) {
			return false
		}
	}
	return true
}

// sameFailureRepeated reports whether the last n attempts all failed with
// one identical, non-empty code set.
func sameFailureRepeated(h *model.AttemptHistory, n int) bool {
	if n <= 0 || h.Len() < n {
		return false
	}
	window := h.Tail(n)
	key := model.CodeSetKey(window[0].FailReasonCodes)
	if key == "" {
		return false
	}
	for _, a := range window {
		if !a.Failed() || model.CodeSetKey(a.FailReasonCodes) != key {
			return false
		}
	}
	return true
}

// NearPass reports whether a failed attempt came close enough to passing to
// end as needs_retry rather than failed: no FATAL signal and at least one
// passing metric.
func NearPass(a model.RunAttempt) bool {
	if Extract(a.FailReasonCodes).Fatal() {
		return false
	}
	return a.Metrics.PassingMetrics() > 0
}

// TerminalStatus maps the last verified attempt and the reason the loop
// ended to the run's final status. A passing gate is success. A fatal
// signal or an exhausted planner leaves no further path and is failed. Every
// other stop condition is needs_retry when the attempt came close to
// passing.
func TerminalStatus(last model.RunAttempt, reason StopReason) model.RunStatus {
	switch {
	case last.GatePassed:
		return model.RunStatusSuccess
	case reason == StopFatal, reason == StopExhausted:
		return model.RunStatusFailed
	case NearPass(last):
		return model.RunStatusNeedsRetry
	default:
		return model.RunStatusFailed
	}
}
