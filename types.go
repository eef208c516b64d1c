package shirabe

import (
	"time"

	"github.com/google/uuid"
)

// Status is a run's terminal state.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusNeedsRetry Status = "needs_retry"
)

// Input is a survey request: the question and the documents to answer it
// from.
// It has no internal package imports, so it is safe to use from outside
// the module.
type Input struct {
	Query       string            `json:"query"`
	DocumentIDs []string          `json:"document_ids"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FailReason is one machine-readable reason a run did not pass the gate.
type FailReason struct {
	Code    string `json:"code"`
	Message string `json:"msg"`
}

// Remediation is a configuration change applied between two attempts.
type Remediation struct {
	ActionID     string `json:"action_id"`
	Rule         int    `json:"rule"`
	Message      string `json:"message"`
	ConfigDigest string `json:"config_digest"`
}

// Outcome is the public summary of a finished run.
type Outcome struct {
	RunID        uuid.UUID     `json:"run_id"`
	Status       Status        `json:"status"`
	StopReason   string        `json:"stop_reason"`
	GatePassed   bool          `json:"gate_passed"`
	Attempts     int           `json:"attempts"`
	ToolCalls    int64         `json:"tool_calls"`
	FailReasons  []FailReason  `json:"fail_reasons,omitempty"`
	Remediations []Remediation `json:"remediations,omitempty"`
	BundleDir    string        `json:"bundle_dir"`
	ManifestRoot string        `json:"manifest_root,omitempty"`
	ArchiveURI   string        `json:"archive_uri,omitempty"`
}

// RunSummary is one row of the run ledger.
type RunSummary struct {
	ID         uuid.UUID  `json:"id"`
	Query      string     `json:"query"`
	Status     string     `json:"status"`
	StopReason string     `json:"stop_reason,omitempty"`
	Attempts   int        `json:"attempts"`
	BundleDir  string     `json:"bundle_dir,omitempty"`
	BundleRoot string     `json:"bundle_root,omitempty"`
	ArchiveURI string     `json:"archive_uri,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// AttemptSummary is one journaled attempt.
type AttemptSummary struct {
	Index        int       `json:"attempt_index"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	GatePassed   bool      `json:"gate_passed"`
	FailReasons  []string  `json:"fail_reason_codes"`
	ToolCalls    int64     `json:"tool_calls"`
	FetchAdapter string    `json:"fetch_adapter"`
	TopK         int       `json:"top_k"`
	Remediation  string    `json:"remediation,omitempty"`
}

// RunHistory is a run's attempt journal plus its seal, if the run finished.
type RunHistory struct {
	RunID      uuid.UUID        `json:"run_id"`
	Attempts   []AttemptSummary `json:"attempts"`
	Sealed     bool             `json:"sealed"`
	Status     Status           `json:"status,omitempty"`
	StopReason string           `json:"stop_reason,omitempty"`
	SealedAt   *time.Time       `json:"sealed_at,omitempty"`
}

// BundleReport is the result of checking a bundle directory.
type BundleReport struct {
	Dir      string   `json:"dir"`
	Missing  []string `json:"missing,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// OK reports whether the bundle passed every check.
func (r BundleReport) OK() bool { return len(r.Missing) == 0 && len(r.Problems) == 0 }
