package repair

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shirabe/internal/integrity"
	"github.com/ashita-ai/shirabe/internal/model"
)

func failedAttempt(codes ...model.FailReasonCode) model.RunAttempt {
	return model.RunAttempt{FailReasonCodes: codes}
}

// historyOf numbers attempts in order and appends them to a fresh history.
func historyOf(t *testing.T, attempts ...model.RunAttempt) *model.AttemptHistory {
	t.Helper()
	h := model.NewAttemptHistory(uuid.New())
	for i, a := range attempts {
		a.AttemptIndex = i + 1
		require.NoError(t, h.Append(a))
	}
	return h
}

func TestSelect(t *testing.T) {
	atHTML := model.DefaultRunConfig("q")
	atHTML.FetchAdapter = model.AdapterHTML
	topKCapped := model.DefaultRunConfig("q")
	topKCapped.TopK = TopKMax
	safeRoute := model.DefaultRunConfig("q")
	safeRoute.ModelRoute = model.ModelRouteSafe

	withTopK := func(t *testing.T) *model.AttemptHistory {
		return historyOf(t,
			failedAttempt(model.CodeCitationMissing),
			model.RunAttempt{
				FailReasonCodes: []model.FailReasonCode{model.CodeCitationMissing},
				Remediation:     &model.Remediation{ActionID: ActionIncreaseTopK, Rule: 3},
			},
		)
	}
	noTopK := func(p *Policy) {
		p.AllowedActions = []string{ActionCitationFirstPrompt, ActionTightenMMR}
	}

	tests := []struct {
		name     string
		codes    []model.FailReasonCode
		cfg      model.RunConfig
		history  func(t *testing.T) *model.AttemptHistory
		policy   func(p *Policy)
		wantID   string
		wantRule int
		wantStop StopReason
	}{
		{name: "fatal wins over everything", codes: []model.FailReasonCode{model.CodeFetchFail, model.CodeAssertionDanger}, wantStop: StopFatal},
		{name: "fetch failure switches adapter", codes: []model.FailReasonCode{model.CodeFetchFail}, wantID: ActionSwitchFetchAdapter, wantRule: 2},
		{name: "index missing switches adapter", codes: []model.FailReasonCode{model.CodeIndexMissing}, wantID: ActionSwitchFetchAdapter, wantRule: 2},
		{name: "last adapter falls through to citations", codes: []model.FailReasonCode{model.CodeCitationMissing, model.CodeFetchFail}, cfg: atHTML, wantID: ActionIncreaseTopK, wantRule: 3},
		{name: "last adapter with nothing else is exhausted", codes: []model.FailReasonCode{model.CodeFetchFail}, cfg: atHTML, wantStop: StopExhausted},
		{name: "first citation failure increases top_k", codes: []model.FailReasonCode{model.CodeLocatorMissing}, wantID: ActionIncreaseTopK, wantRule: 3},
		{name: "recurring citation failure switches prompt", codes: []model.FailReasonCode{model.CodeCitationMissing}, history: withTopK, wantID: ActionCitationFirstPrompt, wantRule: 4},
		{name: "capped top_k switches prompt", codes: []model.FailReasonCode{model.CodeCitationMissing}, cfg: topKCapped, wantID: ActionCitationFirstPrompt, wantRule: 4},
		{name: "disallowed top_k switches prompt", codes: []model.FailReasonCode{model.CodeCitationMissing}, policy: noTopK, wantID: ActionCitationFirstPrompt, wantRule: 4},
		{name: "weak evidence tightens mmr", codes: []model.FailReasonCode{model.CodeEvidenceWeak}, wantID: ActionTightenMMR, wantRule: 5},
		{name: "budget rebalances", codes: []model.FailReasonCode{model.CodeBudgetExceeded}, wantID: ActionBudgetRebalance, wantRule: 6},
		{name: "model failure switches route", codes: []model.FailReasonCode{model.CodeModelTimeout}, wantID: ActionModelRouterSafeSwitch, wantRule: 7},
		{name: "safe route is exhausted", codes: []model.FailReasonCode{model.CodeModelError}, cfg: safeRoute, wantStop: StopExhausted},
		{name: "nothing allowed is exhausted", codes: []model.FailReasonCode{model.CodeEvidenceWeak}, policy: func(p *Policy) { p.AllowedActions = nil }, wantStop: StopExhausted},
		{name: "priority order across signals", codes: []model.FailReasonCode{model.CodeBudgetExceeded, model.CodeEvidenceWeak, model.CodeModelError}, wantID: ActionTightenMMR, wantRule: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if cfg.FetchAdapter == "" {
				cfg = model.DefaultRunConfig("q")
			}
			var h *model.AttemptHistory
			if tt.history != nil {
				h = tt.history(t)
			}
			p := DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&p)
			}

			sel, stop := Select(Extract(tt.codes), cfg, h, p)
			assert.Equal(t, tt.wantStop, stop)
			assert.Equal(t, tt.wantID, sel.ActionID)
			assert.Equal(t, tt.wantRule, sel.Rule)
		})
	}
}

func TestPlanner_FullCycle(t *testing.T) {
	pl := NewPlanner(DefaultPolicy())
	cfg := model.DefaultRunConfig("q")
	h := historyOf(t, failedAttempt(model.CodeCitationMissing))

	plan, err := pl.Plan(Extract([]model.FailReasonCode{model.CodeCitationMissing}), cfg, h, Budget{})
	require.NoError(t, err)
	require.False(t, plan.Terminated())
	assert.Equal(t, ActionIncreaseTopK, plan.ActionID)
	assert.Equal(t, StateActionSelected, pl.State())

	next, rem, err := pl.Apply(cfg, h)
	require.NoError(t, err)
	assert.Equal(t, 15, next.TopK)
	assert.Equal(t, ActionIncreaseTopK, rem.ActionID)
	assert.Equal(t, 3, rem.Rule)
	assert.Equal(t, integrity.ConfigDigest(next), rem.ConfigDigest)
	assert.Equal(t, StateApplied, pl.State())

	require.NoError(t, pl.Loop())
	require.NoError(t, pl.Terminate(StopPassed))

	assert.Equal(t, []State{
		StateIdle, StatePlanning, StateActionSelected, StateApplied, StateLoop, StateTerminated,
	}, pl.Trail())
	assert.Equal(t, StopPassed, pl.StopReason())
}

func TestPlanner_FatalTerminatesWithoutAction(t *testing.T) {
	pl := NewPlanner(DefaultPolicy())
	h := historyOf(t, failedAttempt(model.CodePIIDetected))

	plan, err := pl.Plan(Extract([]model.FailReasonCode{model.CodePIIDetected}), model.DefaultRunConfig("q"), h, Budget{})
	require.NoError(t, err)
	assert.True(t, plan.Terminated())
	assert.Equal(t, StopFatal, plan.Stop)
	assert.Empty(t, plan.ActionID)
	assert.Equal(t, StateTerminated, pl.State())

	_, _, err = pl.Apply(model.DefaultRunConfig("q"), h)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPlanner_StopConditionBeforeAction(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 1
	pl := NewPlanner(p)
	h := historyOf(t, failedAttempt(model.CodeEvidenceWeak))

	plan, err := pl.Plan(Extract([]model.FailReasonCode{model.CodeEvidenceWeak}), model.DefaultRunConfig("q"), h, Budget{})
	require.NoError(t, err)
	assert.Equal(t, StopMaxAttempts, plan.Stop)
	assert.NotContains(t, pl.Trail(), StateActionSelected)
}

func TestPlanner_InvalidTransitions(t *testing.T) {
	pl := NewPlanner(DefaultPolicy())
	assert.ErrorIs(t, pl.Loop(), ErrInvalidTransition)
	_, _, err := pl.Apply(model.DefaultRunConfig("q"), nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, pl.Terminate(StopPassed))
	assert.ErrorIs(t, pl.Terminate(StopPassed), ErrInvalidTransition)
	_, err = pl.Plan(nil, model.DefaultRunConfig("q"), nil, Budget{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPlanner_PolicyIsCopied(t *testing.T) {
	p := DefaultPolicy()
	pl := NewPlanner(p)
	p.AllowedActions = nil

	h := historyOf(t, failedAttempt(model.CodeEvidenceWeak))
	plan, err := pl.Plan(Extract([]model.FailReasonCode{model.CodeEvidenceWeak}), model.DefaultRunConfig("q"), h, Budget{Elapsed: time.Second})
	require.NoError(t, err)
	assert.Equal(t, ActionTightenMMR, plan.ActionID)
}
