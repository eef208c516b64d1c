package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shirabe/internal/model"
)

func TestSignalFor(t *testing.T) {
	tests := []struct {
		code model.FailReasonCode
		want SignalKind
	}{
		{model.CodeFetchFail, SignalFetchFailure},
		{model.CodeIndexMissing, SignalFetchFailure},
		{model.CodeCitationMissing, SignalCitationInsufficient},
		{model.CodeLocatorMissing, SignalCitationInsufficient},
		{model.CodeEvidenceWeak, SignalPrecisionLow},
		{model.CodeBudgetExceeded, SignalBudgetExceeded},
		{model.CodeModelError, SignalModelFailure},
		{model.CodeModelTimeout, SignalModelFailure},
		{model.CodePIIDetected, SignalFatal},
		{model.CodeAssertionDanger, SignalFatal},
		{"SOMETHING_NEW", SignalFatal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, SignalFor(tt.code))
		})
	}
}

func TestExtract_GroupsAndOrders(t *testing.T) {
	got := Extract([]model.FailReasonCode{
		model.CodeEvidenceWeak,
		model.CodeLocatorMissing,
		model.CodeFetchFail,
		model.CodeCitationMissing,
		model.CodeIndexMissing,
		model.CodeFetchFail,
	})
	require.Len(t, got, 3)

	assert.Equal(t, SignalFetchFailure, got[0].Kind)
	assert.Equal(t, []model.FailReasonCode{model.CodeFetchFail, model.CodeIndexMissing}, got[0].OriginatingCodes)
	assert.Equal(t, SeverityHigh, got[0].Severity)

	assert.Equal(t, SignalCitationInsufficient, got[1].Kind)
	assert.Equal(t, []model.FailReasonCode{model.CodeLocatorMissing, model.CodeCitationMissing}, got[1].OriginatingCodes)
	assert.Equal(t, SeverityMedium, got[1].Severity)

	assert.Equal(t, SignalPrecisionLow, got[2].Kind)
	assert.False(t, got.Fatal())
}

func TestExtract_FatalFirst(t *testing.T) {
	got := Extract([]model.FailReasonCode{model.CodeCitationMissing, model.CodePIIDetected})
	require.NotEmpty(t, got)
	assert.Equal(t, SignalFatal, got[0].Kind)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.True(t, got.Fatal())
	assert.True(t, got.Has(SignalCitationInsufficient))
}

func TestExtract_Empty(t *testing.T) {
	assert.Nil(t, Extract(nil))
	assert.False(t, Extract(nil).Fatal())
}

func TestExtract_Deterministic(t *testing.T) {
	codes := []model.FailReasonCode{model.CodeBudgetExceeded, model.CodeModelTimeout, model.CodeFetchFail}
	assert.Equal(t, Extract(codes), Extract(codes))
}
