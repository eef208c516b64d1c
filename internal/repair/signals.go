// Package repair turns gate failures into configuration changes. It holds the
// failure-signal extractor, the repair policy and its stop conditions, the
// static remediation action registry, and the planner state machine.
package repair

import (
	"github.com/ashita-ai/shirabe/internal/model"
)

// SignalKind is a normalized failure category the planner understands.
type SignalKind string

const (
	SignalFetchFailure         SignalKind = "FETCH_FAILURE"
	SignalCitationInsufficient SignalKind = "CITATION_INSUFFICIENT"
	SignalPrecisionLow         SignalKind = "PRECISION_LOW"
	SignalBudgetExceeded       SignalKind = "BUDGET_EXCEEDED"
	SignalModelFailure         SignalKind = "MODEL_FAILURE"
	SignalFatal                SignalKind = "FATAL"
)

// Severity ranks how serious a signal is. It is informational; the planner
// orders rules by kind, not severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// signalOrder is the order Extract emits signals in.
var signalOrder = []SignalKind{
	SignalFatal,
	SignalFetchFailure,
	SignalCitationInsufficient,
	SignalPrecisionLow,
	SignalBudgetExceeded,
	SignalModelFailure,
}

var codeSignals = map[model.FailReasonCode]SignalKind{
	model.CodeFetchFail:       SignalFetchFailure,
	model.CodeIndexMissing:    SignalFetchFailure,
	model.CodeCitationMissing: SignalCitationInsufficient,
	model.CodeLocatorMissing:  SignalCitationInsufficient,
	model.CodeEvidenceWeak:    SignalPrecisionLow,
	model.CodeBudgetExceeded:  SignalBudgetExceeded,
	model.CodeModelError:      SignalModelFailure,
	model.CodeModelTimeout:    SignalModelFailure,
	model.CodePIIDetected:     SignalFatal,
	model.CodeAssertionDanger: SignalFatal,
}

var kindSeverity = map[SignalKind]Severity{
	SignalFatal:                SeverityCritical,
	SignalFetchFailure:         SeverityHigh,
	SignalBudgetExceeded:       SeverityHigh,
	SignalCitationInsufficient: SeverityMedium,
	SignalPrecisionLow:         SeverityMedium,
	SignalModelFailure:         SeverityMedium,
}

// FailureSignal groups the raw codes that map to one kind.
type FailureSignal struct {
	Kind             SignalKind             `json:"kind"`
	OriginatingCodes []model.FailReasonCode `json:"originating_codes"`
	Severity         Severity               `json:"severity"`
}

// Signals is the extractor's output for one attempt.
type Signals []FailureSignal

// Has reports whether a signal of kind k is present.
func (s Signals) Has(k SignalKind) bool {
	for _, sig := range s {
		if sig.Kind == k {
			return true
		}
	}
	return false
}

// Fatal reports whether any signal forbids remediation.
func (s Signals) Fatal() bool { return s.Has(SignalFatal) }

// SignalFor maps one code to its kind. Codes no action understands are
// FATAL.
func SignalFor(code model.FailReasonCode) SignalKind {
	if k, ok := codeSignals[code]; ok {
		return k
	}
	return SignalFatal
}

// Extract maps an attempt's fail-reason codes to signals. The mapping is
// many-to-one and deterministic: output order is fixed and originating codes
// keep their input order without duplicates.
func Extract(codes []model.FailReasonCode) Signals {
	if len(codes) == 0 {
		return nil
	}
	byKind := make(map[SignalKind][]model.FailReasonCode)
	seen := make(map[model.FailReasonCode]bool, len(codes))
	for _, c := range codes {
		if seen[c] {
			continue
		}
		seen[c] = true
		k := SignalFor(c)
		byKind[k] = append(byKind[k], c)
	}
	out := make(Signals, 0, len(byKind))
	for _, k := range signalOrder {
		if cs, ok := byKind[k]; ok {
			out = append(out, FailureSignal{Kind: k, OriginatingCodes: cs, Severity: kindSeverity[k]})
		}
	}
	return out
}
