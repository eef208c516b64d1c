package repair

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/shirabe/internal/model"
)

// ErrInvalidPolicy is wrapped by every policy validation failure.
var ErrInvalidPolicy = errors.New("repair: invalid policy")

// Default policy bounds.
const (
	DefaultMaxAttempts              = 3
	DefaultMaxWallTimeSec           = 600
	DefaultMaxToolCalls             = 500
	DefaultConsecutiveNoImprovement = 3
	DefaultSameFailureRepeated      = 3
)

// StopOn holds the history-based stop rules. A value of zero or less
// disables the rule.
type StopOn struct {
	ConsecutiveNoImprovement int `json:"consecutive_no_improvement" yaml:"consecutive_no_improvement"`
	SameFailureRepeated      int `json:"same_failure_repeated" yaml:"same_failure_repeated"`
}

// BudgetOverrides adjust the run's resource ceilings before the first
// attempt. Zero fields leave the default in place.
type BudgetOverrides struct {
	MaxGenerationTokens int   `json:"max_generation_tokens,omitempty" yaml:"max_generation_tokens,omitempty"`
	ToolCallsPerAttempt int64 `json:"tool_calls_per_attempt,omitempty" yaml:"tool_calls_per_attempt,omitempty"`
}

// Policy bounds one run's repair loop. Treat it as immutable once a run has
// started; the orchestrator keeps its own copy.
type Policy struct {
	MaxAttempts     int              `json:"max_attempts" yaml:"max_attempts"`
	MaxWallTimeSec  float64          `json:"max_wall_time_sec" yaml:"max_wall_time_sec"`
	MaxToolCalls    int64            `json:"max_tool_calls" yaml:"max_tool_calls"`
	AllowedActions  []string         `json:"allowed_actions" yaml:"allowed_actions"`
	StopOn          StopOn           `json:"stop_on" yaml:"stop_on"`
	BudgetOverrides *BudgetOverrides `json:"budget_overrides,omitempty" yaml:"budget_overrides,omitempty"`
}

// DefaultPolicy returns the policy used when the caller supplies no
// overrides. Every registered action is allowed.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		MaxWallTimeSec: DefaultMaxWallTimeSec,
		MaxToolCalls:   DefaultMaxToolCalls,
		AllowedActions: ActionIDs(),
		StopOn: StopOn{
			ConsecutiveNoImprovement: DefaultConsecutiveNoImprovement,
			SameFailureRepeated:      DefaultSameFailureRepeated,
		},
	}
}

// Clone returns a deep copy so callers cannot mutate a running policy.
func (p Policy) Clone() Policy {
	out := p
	out.AllowedActions = slices.Clone(p.AllowedActions)
	if p.BudgetOverrides != nil {
		b := *p.BudgetOverrides
		out.BudgetOverrides = &b
	}
	return out
}

// MaxWallTime returns the wall-time bound as a duration.
func (p Policy) MaxWallTime() time.Duration {
	return time.Duration(p.MaxWallTimeSec * float64(time.Second))
}

// Allows reports whether the action id may be applied under this policy.
func (p Policy) Allows(id string) bool {
	return slices.Contains(p.AllowedActions, id)
}

// Validate checks the policy's bounds and action ids.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts))
	}
	if p.MaxWallTimeSec <= 0 {
		errs = append(errs, fmt.Errorf("max_wall_time_sec must be > 0, got %g", p.MaxWallTimeSec))
	}
	if p.MaxToolCalls < 1 {
		errs = append(errs, fmt.Errorf("max_tool_calls must be >= 1, got %d", p.MaxToolCalls))
	}
	for _, id := range p.AllowedActions {
		if _, ok := Lookup(id); !ok {
			errs = append(errs, fmt.Errorf("unknown action %q", id))
		}
	}
	if b := p.BudgetOverrides; b != nil {
		if b.MaxGenerationTokens < 0 {
			errs = append(errs, fmt.Errorf("budget_overrides.max_generation_tokens must be >= 0, got %d", b.MaxGenerationTokens))
		}
		if b.ToolCallsPerAttempt < 0 {
			errs = append(errs, fmt.Errorf("budget_overrides.tool_calls_per_attempt must be >= 0, got %d", b.ToolCallsPerAttempt))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
	}
	return nil
}

// ApplyBudget returns cfg with the policy's budget overrides applied.
func (p Policy) ApplyBudget(cfg model.RunConfig) model.RunConfig {
	if b := p.BudgetOverrides; b != nil {
		if b.MaxGenerationTokens > 0 {
			cfg.MaxGenerationTokens = b.MaxGenerationTokens
		}
		if b.ToolCallsPerAttempt > 0 {
			cfg.ToolCallCeiling = b.ToolCallsPerAttempt
		}
	}
	return cfg
}

// ParsePolicy decodes overrides on top of DefaultPolicy and validates the
// result. format is "json" or "yaml". Fields absent from data keep their
// defaults; a present allowed_actions list replaces the default list.
func ParsePolicy(data []byte, format string) (Policy, error) {
	p := DefaultPolicy()
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Policy{}, fmt.Errorf("%w: decode json: %w", ErrInvalidPolicy, err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return Policy{}, fmt.Errorf("%w: decode yaml: %w", ErrInvalidPolicy, err)
		}
	default:
		return Policy{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidPolicy, format)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads a policy file. The format follows the file extension:
// .json, .yaml or .yml.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied
	if err != nil {
		return Policy{}, fmt.Errorf("repair: read policy: %w", err)
	}
	return ParsePolicy(data, strings.TrimPrefix(filepath.Ext(path), "."))
}
