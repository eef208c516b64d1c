package model

import (
	"sort"
	"strings"
)

// FailReasonCode is a machine-readable reason an attempt did not pass.
type FailReasonCode string

// Gate vocabulary. Only the quality gate verifier emits these, and always in
// this order.
const (
	CodeCitationMissing FailReasonCode = "CITATION_MISSING"
	CodeEvidenceWeak    FailReasonCode = "EVIDENCE_WEAK"
	CodeLocatorMissing  FailReasonCode = "LOCATOR_MISSING"
	CodeAssertionDanger FailReasonCode = "ASSERTION_DANGER"
	CodePIIDetected     FailReasonCode = "PII_DETECTED"
	CodeFetchFail       FailReasonCode = "FETCH_FAIL"
	CodeIndexMissing    FailReasonCode = "INDEX_MISSING"
	CodeBudgetExceeded  FailReasonCode = "BUDGET_EXCEEDED"
)

// Collaborator codes are reported by the attempt runner when a model stage
// fails. They never come from the verifier.
const (
	CodeModelError   FailReasonCode = "MODEL_ERROR"
	CodeModelTimeout FailReasonCode = "MODEL_TIMEOUT"
)

// CodeVerifyNotRun marks a terminal record written before any attempt reached
// the verifier.
const CodeVerifyNotRun FailReasonCode = "VERIFY_NOT_RUN"

// GateCodes lists the closed gate vocabulary in emission order.
var GateCodes = []FailReasonCode{
	CodeCitationMissing,
	CodeEvidenceWeak,
	CodeLocatorMissing,
	CodeAssertionDanger,
	CodePIIDetected,
	CodeFetchFail,
	CodeIndexMissing,
	CodeBudgetExceeded,
}

var codeMessages = map[FailReasonCode]string{
	CodeCitationMissing: "answer carries no citations",
	CodeEvidenceWeak:    "cited evidence is below the strength threshold",
	CodeLocatorMissing:  "cited evidence lacks a document locator",
	CodeAssertionDanger: "unguarded absolute claim without supporting evidence",
	CodePIIDetected:     "output contains personally identifying content",
	CodeFetchFail:       "one or more source documents failed to fetch",
	CodeIndexMissing:    "no retrieval index was available",
	CodeBudgetExceeded:  "a resource ceiling was exceeded during the attempt",
	CodeModelError:      "a model stage returned an error",
	CodeModelTimeout:    "a model stage timed out",
	CodeVerifyNotRun:    "no attempt reached the quality gate",
}

// Message returns the default human-readable message for a code.
func (c FailReasonCode) Message() string {
	if m, ok := codeMessages[c]; ok {
		return m
	}
	return "unrecognized failure"
}

// IsGateCode reports whether c belongs to the closed gate vocabulary.
func (c FailReasonCode) IsGateCode() bool {
	for _, g := range GateCodes {
		if g == c {
			return true
		}
	}
	return false
}

// FailReason is one entry of the evaluation summary's fail_reasons list.
type FailReason struct {
	Code FailReasonCode `json:"code"`
	Msg  string         `json:"msg"`
}

// ReasonsFor expands codes into FailReason entries with default messages.
func ReasonsFor(codes []FailReasonCode) []FailReason {
	out := make([]FailReason, 0, len(codes))
	for _, c := range codes {
		out = append(out, FailReason{Code: c, Msg: c.Message()})
	}
	return out
}

// CodeSetKey returns a canonical key for a set of codes, independent of
// order and duplicates. Two attempts with identical code sets share a key.
func CodeSetKey(codes []FailReasonCode) string {
	uniq := make(map[FailReasonCode]struct{}, len(codes))
	for _, c := range codes {
		uniq[c] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for c := range uniq {
		sorted = append(sorted, string(c))
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
