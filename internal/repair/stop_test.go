package repair

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/shirabe/internal/model"
)

func TestCheckStop(t *testing.T) {
	weak := []model.FailReasonCode{model.CodeEvidenceWeak}
	two := []model.FailReasonCode{model.CodeEvidenceWeak, model.CodeFetchFail}

	tests := []struct {
		name     string
		policy   func(p *Policy)
		attempts []model.RunAttempt
		budget   Budget
		want     StopReason
	}{
		{
			name:     "under every bound",
			attempts: []model.RunAttempt{failedAttempt(weak...)},
			want:     StopNone,
		},
		{
			name:     "max attempts reached",
			policy:   func(p *Policy) { p.MaxAttempts = 2 },
			attempts: []model.RunAttempt{failedAttempt(two...), failedAttempt(weak...)},
			want:     StopMaxAttempts,
		},
		{
			name:     "wall time",
			attempts: []model.RunAttempt{failedAttempt(weak...)},
			budget:   Budget{Elapsed: 11 * time.Minute},
			want:     StopMaxWallTime,
		},
		{
			name:     "tool calls",
			policy:   func(p *Policy) { p.MaxToolCalls = 20 },
			attempts: []model.RunAttempt{failedAttempt(weak...)},
			budget:   Budget{ToolCalls: 20},
			want:     StopMaxToolCalls,
		},
		{
			name:     "no improvement over window",
			policy:   func(p *Policy) { p.MaxAttempts = 10; p.StopOn.SameFailureRepeated = 0; p.StopOn.ConsecutiveNoImprovement = 2 },
			attempts: []model.RunAttempt{failedAttempt(weak...), failedAttempt(two...)},
			want:     StopNoImprovement,
		},
		{
			name:     "fewer codes is improvement",
			policy:   func(p *Policy) { p.MaxAttempts = 10; p.StopOn.ConsecutiveNoImprovement = 2 },
			attempts: []model.RunAttempt{failedAttempt(two...), failedAttempt(weak...)},
			want:     StopNone,
		},
		{
			name:     "same failure repeated",
			policy:   func(p *Policy) { p.MaxAttempts = 10; p.StopOn.ConsecutiveNoImprovement = 0; p.StopOn.SameFailureRepeated = 3 },
			attempts: []model.RunAttempt{failedAttempt(weak...), failedAttempt(weak...), failedAttempt(weak...)},
			want:     StopSameFailureRepeated,
		},
		{
			name:     "same failure needs identical sets",
			policy:   func(p *Policy) { p.MaxAttempts = 10; p.StopOn.ConsecutiveNoImprovement = 0; p.StopOn.SameFailureRepeated = 2 },
			attempts: []model.RunAttempt{failedAttempt(two...), failedAttempt(model.CodeEvidenceWeak, model.CodeIndexMissing)},
			want:     StopNone,
		},
		{
			name:     "disabled history rules",
			policy:   func(p *Policy) { p.MaxAttempts = 10; p.StopOn = StopOn{} },
			attempts: []model.RunAttempt{failedAttempt(weak...), failedAttempt(weak...), failedAttempt(weak...)},
			want:     StopNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&p)
			}
			h := historyOf(t, tt.attempts...)
			assert.Equal(t, tt.want, CheckStop(p, h, tt.budget))
		})
	}
}

func TestTerminalStatus(t *testing.T) {
	nearPass := model.QualityMetrics{CitationCount: 2, StrengthThreshold: 0.35}
	nothing := model.QualityMetrics{StrengthThreshold: 0.35}

	tests := []struct {
		name    string
		attempt model.RunAttempt
		reason  StopReason
		want    model.RunStatus
	}{
		{"passed", model.RunAttempt{GatePassed: true}, StopPassed, model.RunStatusSuccess},
		{"near pass at bound", model.RunAttempt{FailReasonCodes: []model.FailReasonCode{model.CodeEvidenceWeak}, Metrics: nearPass}, StopMaxAttempts, model.RunStatusNeedsRetry},
		{"nothing passing at bound", model.RunAttempt{FailReasonCodes: []model.FailReasonCode{model.CodeCitationMissing}, Metrics: nothing}, StopNoImprovement, model.RunStatusFailed},
		{"fatal", model.RunAttempt{FailReasonCodes: []model.FailReasonCode{model.CodePIIDetected}, Metrics: nearPass}, StopFatal, model.RunStatusFailed},
		{"exhausted", model.RunAttempt{FailReasonCodes: []model.FailReasonCode{model.CodeFetchFail}, Metrics: nearPass}, StopExhausted, model.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TerminalStatus(tt.attempt, tt.reason))
		})
	}
}
