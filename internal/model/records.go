package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultRecord is the bundle's final result.
type ResultRecord struct {
	RunID       uuid.UUID    `json:"run_id"`
	Status      RunStatus    `json:"status"`
	Answer      string       `json:"answer"`
	Citations   []Citation   `json:"citations"`
	FailReasons []FailReason `json:"fail_reasons,omitempty"`
	Attempts    int          `json:"attempts"`
	CompletedAt time.Time    `json:"completed_at"`
}

// EvalSummary is the bundle's evaluation summary: gate outcome, reasons and
// metrics of the last verified attempt.
type EvalSummary struct {
	RunID        uuid.UUID      `json:"run_id"`
	Status       GateStatus     `json:"status"`
	GatePassed   bool           `json:"gate_passed"`
	FailReasons  []FailReason   `json:"fail_reasons"`
	Metrics      QualityMetrics `json:"metrics"`
	Remediations []Remediation  `json:"remediations,omitempty"`
	StopReason   string         `json:"stop_reason,omitempty"`
}

// InputRecord wraps the caller's input with run identity.
type InputRecord struct {
	RunID     uuid.UUID `json:"run_id"`
	Input     Input     `json:"input"`
	CreatedAt time.Time `json:"created_at"`
}

// ConfigRecord is the run configuration snapshot written to the bundle.
type ConfigRecord struct {
	RunID   uuid.UUID `json:"run_id"`
	Initial RunConfig `json:"initial"`
	Final   RunConfig `json:"final"`
	Policy  any       `json:"policy"`
}
