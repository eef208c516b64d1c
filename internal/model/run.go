// Package model defines the core domain types for shirabe.
//
// Types map directly onto the bundle artifacts and ledger rows written for
// every run. They use strong typing (UUIDs, time.Time, string enums) and
// avoid interface{} wherever possible.
package model

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal state of a survey run.
type RunStatus string

const (
	RunStatusSuccess    RunStatus = "success"
	RunStatusFailed     RunStatus = "failed"
	RunStatusNeedsRetry RunStatus = "needs_retry"
)

// Valid reports whether s is one of the three terminal statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusNeedsRetry:
		return true
	}
	return false
}

// GateStatus is the pass/fail outcome recorded in the evaluation summary.
type GateStatus string

const (
	GateStatusPass GateStatus = "pass"
	GateStatusFail GateStatus = "fail"
)

// Input is the caller-supplied survey request. It is written verbatim to the
// bundle's input record.
type Input struct {
	Query       string            `json:"query"`
	DocumentIDs []string          `json:"document_ids"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Remediation records the action applied between two attempts. It is stored
// on the attempt whose configuration it produced.
type Remediation struct {
	ActionID     string `json:"action_id"`
	Rule         int    `json:"rule"`
	Message      string `json:"message"`
	ConfigDigest string `json:"config_digest"`
}

// RunAttempt is one iteration of the repair loop. Immutable once appended to
// an AttemptHistory.
type RunAttempt struct {
	AttemptIndex    int                `json:"attempt_index"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         time.Time          `json:"ended_at"`
	ConfigSnapshot  RunConfig          `json:"config_snapshot"`
	RawMetrics      map[string]float64 `json:"raw_metrics,omitempty"`
	FailReasonCodes []FailReasonCode   `json:"fail_reason_codes"`
	GatePassed      bool               `json:"gate_passed"`
	Metrics         QualityMetrics     `json:"metrics"`
	ToolCalls       int64              `json:"tool_calls"`
	Remediation     *Remediation       `json:"remediation,omitempty"`
}

// Failed reports whether the attempt did not pass the gate.
func (a RunAttempt) Failed() bool { return !a.GatePassed }

// clone returns a copy of a that shares no slices, maps or pointers with it.
func (a RunAttempt) clone() RunAttempt {
	a.FailReasonCodes = slices.Clone(a.FailReasonCodes)
	a.RawMetrics = maps.Clone(a.RawMetrics)
	if a.Remediation != nil {
		rem := *a.Remediation
		a.Remediation = &rem
	}
	return a
}

// AttemptHistory is the ordered, append-only record of attempts for one run.
// Insertion order is chronological order. It has a single writer (the
// orchestrator) and is not safe for concurrent mutation.
type AttemptHistory struct {
	RunID    uuid.UUID
	attempts []RunAttempt
}

// NewAttemptHistory returns an empty history bound to runID.
func NewAttemptHistory(runID uuid.UUID) *AttemptHistory {
	return &AttemptHistory{RunID: runID}
}

// Append adds an attempt. Indices must be contiguous starting at 1.
func (h *AttemptHistory) Append(a RunAttempt) error {
	want := len(h.attempts) + 1
	if a.AttemptIndex != want {
		return fmt.Errorf("model: attempt index %d out of order (want %d)", a.AttemptIndex, want)
	}
	h.attempts = append(h.attempts, a.clone())
	return nil
}

// Len returns the number of recorded attempts.
func (h *AttemptHistory) Len() int {
	if h == nil {
		return 0
	}
	return len(h.attempts)
}

// Last returns the most recent attempt, if any.
func (h *AttemptHistory) Last() (RunAttempt, bool) {
	if h.Len() == 0 {
		return RunAttempt{}, false
	}
	return h.attempts[len(h.attempts)-1].clone(), true
}

// Attempts returns a copy of the recorded attempts.
func (h *AttemptHistory) Attempts() []RunAttempt {
	if h == nil {
		return nil
	}
	out := make([]RunAttempt, len(h.attempts))
	for i, a := range h.attempts {
		out[i] = a.clone()
	}
	return out
}

// Tail returns a copy of the last n attempts (fewer if the history is shorter).
func (h *AttemptHistory) Tail(n int) []RunAttempt {
	all := h.Attempts()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// ActionApplied reports whether the named remediation was applied at any
// point in this run.
func (h *AttemptHistory) ActionApplied(actionID string) bool {
	if h == nil {
		return false
	}
	for _, a := range h.attempts {
		if a.Remediation != nil && a.Remediation.ActionID == actionID {
			return true
		}
	}
	return false
}

// Remediations returns every applied action in order.
func (h *AttemptHistory) Remediations() []Remediation {
	if h == nil {
		return nil
	}
	var out []Remediation
	for _, a := range h.attempts {
		if a.Remediation != nil {
			out = append(out, *a.Remediation)
		}
	}
	return out
}
