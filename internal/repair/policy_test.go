package repair

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shirabe/internal/model"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 10*time.Minute, p.MaxWallTime())
	assert.ElementsMatch(t, []string{
		ActionSwitchFetchAdapter,
		ActionIncreaseTopK,
		ActionCitationFirstPrompt,
		ActionTightenMMR,
		ActionBudgetRebalance,
		ActionModelRouterSafeSwitch,
	}, p.AllowedActions)
	for _, id := range p.AllowedActions {
		assert.True(t, p.Allows(id))
	}
	assert.False(t, p.Allows("DELETE_EVERYTHING"))
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"zero attempts", func(p *Policy) { p.MaxAttempts = 0 }},
		{"zero wall time", func(p *Policy) { p.MaxWallTimeSec = 0 }},
		{"negative wall time", func(p *Policy) { p.MaxWallTimeSec = -1 }},
		{"zero tool calls", func(p *Policy) { p.MaxToolCalls = 0 }},
		{"unknown action", func(p *Policy) { p.AllowedActions = append(p.AllowedActions, "REBOOT") }},
		{"negative token override", func(p *Policy) { p.BudgetOverrides = &BudgetOverrides{MaxGenerationTokens: -1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
		})
	}
}

func TestPolicyValidate_EmptyAllowedActionsIsValid(t *testing.T) {
	p := DefaultPolicy()
	p.AllowedActions = nil
	assert.NoError(t, p.Validate())
}

func TestParsePolicy_JSONMergesDefaults(t *testing.T) {
	p, err := ParsePolicy([]byte(`{"max_attempts": 5, "stop_on": {"same_failure_repeated": 2}}`), "json")
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 2, p.StopOn.SameFailureRepeated)
	assert.Equal(t, DefaultConsecutiveNoImprovement, p.StopOn.ConsecutiveNoImprovement)
	assert.Equal(t, float64(DefaultMaxWallTimeSec), p.MaxWallTimeSec)
	assert.Len(t, p.AllowedActions, 6)
}

func TestParsePolicy_YAML(t *testing.T) {
	data := []byte(`
max_attempts: 4
max_tool_calls: 40
allowed_actions: [INCREASE_TOP_K, TIGHTEN_MMR]
budget_overrides:
  max_generation_tokens: 1024
  tool_calls_per_attempt: 10
`)
	p, err := ParsePolicy(data, "yaml")
	require.NoError(t, err)
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, int64(40), p.MaxToolCalls)
	assert.Equal(t, []string{ActionIncreaseTopK, ActionTightenMMR}, p.AllowedActions)
	require.NotNil(t, p.BudgetOverrides)
	assert.Equal(t, 1024, p.BudgetOverrides.MaxGenerationTokens)

	cfg := p.ApplyBudget(model.DefaultRunConfig("q"))
	assert.Equal(t, 1024, cfg.MaxGenerationTokens)
	assert.Equal(t, int64(10), cfg.ToolCallCeiling)
}

func TestParsePolicy_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
	}{
		{"unknown json field", `{"max_attempt": 3}`, "json"},
		{"unknown yaml field", "retries: 3\n", "yaml"},
		{"invalid bounds", `{"max_attempts": 0}`, "json"},
		{"malformed", `{"max_attempts": `, "json"},
		{"unsupported format", `max_attempts = 3`, "toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.data), tt.format)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte("max_attempts: 2\n"), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 2, p.MaxAttempts)

	_, err = LoadPolicy(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestPolicyClone(t *testing.T) {
	p := DefaultPolicy()
	p.BudgetOverrides = &BudgetOverrides{MaxGenerationTokens: 512}
	c := p.Clone()

	c.AllowedActions[0] = "CHANGED"
	c.BudgetOverrides.MaxGenerationTokens = 1

	assert.NotEqual(t, "CHANGED", p.AllowedActions[0])
	assert.Equal(t, 512, p.BudgetOverrides.MaxGenerationTokens)
}
