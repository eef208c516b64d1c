package repair

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ashita-ai/shirabe/internal/integrity"
	"github.com/ashita-ai/shirabe/internal/model"
)

// State is a planner state.
type State string

const (
	StateIdle           State = "IDLE"
	StatePlanning       State = "PLANNING"
	StateActionSelected State = "ACTION_SELECTED"
	StateApplied        State = "APPLIED"
	StateLoop           State = "LOOP"
	StateTerminated     State = "TERMINATED"
)

// ErrInvalidTransition is returned when a planner method is called from a
// state that does not allow it.
var ErrInvalidTransition = errors.New("repair: invalid planner transition")

var transitions = map[State][]State{
	StateIdle:           {StatePlanning, StateTerminated},
	StatePlanning:       {StateActionSelected, StateTerminated},
	StateActionSelected: {StateApplied, StateTerminated},
	StateApplied:        {StateLoop, StateTerminated},
	StateLoop:           {StatePlanning, StateTerminated},
}

// Selection is the action chosen for the next attempt and the rule that
// chose it.
type Selection struct {
	ActionID string `json:"action_id"`
	Rule     int    `json:"rule"`
}

// Plan is the planner's decision after a failed attempt: either a selection
// or a stop reason, never both.
type Plan struct {
	Selection
	Stop StopReason `json:"stop,omitempty"`
}

// Terminated reports whether the loop should end.
func (p Plan) Terminated() bool { return p.Stop != StopNone }

type rule struct {
	n      int
	kind   SignalKind
	action string
	// when narrows the rule beyond signal presence. nil means always.
	when func(h *model.AttemptHistory) bool
}

// rules are evaluated in order; the first allowed and applicable one wins.
// Rule 1 (FATAL) is handled before the table.
var rules = []rule{
	{n: 2, kind: SignalFetchFailure, action: ActionSwitchFetchAdapter},
	{n: 3, kind: SignalCitationInsufficient, action: ActionIncreaseTopK, when: func(h *model.AttemptHistory) bool {
		return !h.ActionApplied(ActionIncreaseTopK)
	}},
	{n: 4, kind: SignalCitationInsufficient, action: ActionCitationFirstPrompt},
	{n: 5, kind: SignalPrecisionLow, action: ActionTightenMMR},
	{n: 6, kind: SignalBudgetExceeded, action: ActionBudgetRebalance},
	{n: 7, kind: SignalModelFailure, action: ActionModelRouterSafeSwitch},
}

// Select picks the next action for signals under policy p. It is a pure
// function of its arguments. The returned StopReason is StopFatal when a
// FATAL signal is present and StopExhausted when no rule applies.
func Select(signals Signals, cfg model.RunConfig, h *model.AttemptHistory, p Policy) (Selection, StopReason) {
	if signals.Fatal() {
		return Selection{}, StopFatal
	}
	for _, r := range rules {
		if !signals.Has(r.kind) || !p.Allows(r.action) {
			continue
		}
		if r.when != nil && !r.when(h) {
			continue
		}
		if act, ok := Lookup(r.action); ok && act.Applicable(cfg, h) {
			return Selection{ActionID: r.action, Rule: r.n}, StopNone
		}
	}
	return Selection{}, StopExhausted
}

// Planner drives one run's repair decisions through the state machine
// IDLE -> PLANNING -> ACTION_SELECTED -> APPLIED -> (LOOP | TERMINATED).
// It is owned by a single orchestrator goroutine.
type Planner struct {
	policy   Policy
	state    State
	trail    []State
	selected Selection
	stop     StopReason
}

// NewPlanner returns a planner in IDLE for policy p.
func NewPlanner(p Policy) *Planner {
	return &Planner{policy: p.Clone(), state: StateIdle, trail: []State{StateIdle}}
}

// State returns the current state.
func (pl *Planner) State() State { return pl.state }

// Trail returns every state visited, in order.
func (pl *Planner) Trail() []State { return slices.Clone(pl.trail) }

// StopReason returns why the planner terminated, or StopNone.
func (pl *Planner) StopReason() StopReason { return pl.stop }

func (pl *Planner) transition(to State) error {
	if !slices.Contains(transitions[pl.state], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, pl.state, to)
	}
	pl.state = to
	pl.trail = append(pl.trail, to)
	return nil
}

// Plan decides what follows a failed attempt. FATAL signals and an
// exhausted rule table terminate first; otherwise the policy's stop
// conditions are checked against history and budget before an action is
// selected.
func (pl *Planner) Plan(signals Signals, cfg model.RunConfig, h *model.AttemptHistory, b Budget) (Plan, error) {
	if err := pl.transition(StatePlanning); err != nil {
		return Plan{}, err
	}

	sel, stop := Select(signals, cfg, h, pl.policy)
	if stop == StopNone {
		stop = CheckStop(pl.policy, h, b)
	}
	if stop != StopNone {
		if err := pl.Terminate(stop); err != nil {
			return Plan{}, err
		}
		return Plan{Stop: stop}, nil
	}

	if err := pl.transition(StateActionSelected); err != nil {
		return Plan{}, err
	}
	pl.selected = sel
	return Plan{Selection: sel}, nil
}

// Apply runs the selected action against cfg and returns the new
// configuration with its remediation record.
func (pl *Planner) Apply(cfg model.RunConfig, h *model.AttemptHistory) (model.RunConfig, model.Remediation, error) {
	if pl.state != StateActionSelected {
		return cfg, model.Remediation{}, fmt.Errorf("%w: apply from %s", ErrInvalidTransition, pl.state)
	}
	act, ok := Lookup(pl.selected.ActionID)
	if !ok {
		return cfg, model.Remediation{}, fmt.Errorf("repair: apply: unknown action %q", pl.selected.ActionID)
	}
	next, msg := act.Apply(cfg, h)
	if err := pl.transition(StateApplied); err != nil {
		return cfg, model.Remediation{}, err
	}
	return next, model.Remediation{
		ActionID:     act.ID(),
		Rule:         pl.selected.Rule,
		Message:      msg,
		ConfigDigest: integrity.ConfigDigest(next),
	}, nil
}

// Loop moves an applied planner back toward planning for the next attempt.
func (pl *Planner) Loop() error {
	return pl.transition(StateLoop)
}

// Terminate ends the loop with reason. Terminating twice is an error.
func (pl *Planner) Terminate(reason StopReason) error {
	if err := pl.transition(StateTerminated); err != nil {
		return err
	}
	pl.stop = reason
	return nil
}
