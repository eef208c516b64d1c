package repair

import (
	"fmt"
	"math"
	"sort"

	"github.com/ashita-ai/shirabe/internal/model"
)

// Action ids.
const (
	ActionSwitchFetchAdapter    = "SWITCH_FETCH_ADAPTER"
	ActionIncreaseTopK          = "INCREASE_TOP_K"
	ActionCitationFirstPrompt   = "CITATION_FIRST_PROMPT"
	ActionTightenMMR            = "TIGHTEN_MMR"
	ActionBudgetRebalance       = "BUDGET_REBALANCE"
	ActionModelRouterSafeSwitch = "MODEL_ROUTER_SAFE_SWITCH"
)

// Numeric effects and ceilings.
const (
	TopKStep          = 5
	TopKMax           = 50
	MMRLambdaStep     = 0.1
	MMRLambdaMax      = 0.9
	MinGenerationToks = 256
)

// SafetySafe is the only safety class in the registry: every action touches
// configuration and nothing else.
const SafetySafe = "safe"

// Action is a deterministic configuration transformation. Implementations
// must not perform I/O, read the clock, or use randomness: the same
// (config, history) always yields the same result.
type Action interface {
	ID() string
	Safety() string
	// Applicable reports whether Apply would change cfg. Actions at their
	// ceiling are not applicable.
	Applicable(cfg model.RunConfig, h *model.AttemptHistory) bool
	// Apply returns the new configuration and a human-readable message.
	Apply(cfg model.RunConfig, h *model.AttemptHistory) (model.RunConfig, string)
}

// registry maps action ids to implementations. It is filled once at package
// init and read-only afterwards.
var registry = map[string]Action{
	ActionSwitchFetchAdapter:    switchFetchAdapter{},
	ActionIncreaseTopK:          increaseTopK{},
	ActionCitationFirstPrompt:   citationFirstPrompt{},
	ActionTightenMMR:            tightenMMR{},
	ActionBudgetRebalance:       budgetRebalance{},
	ActionModelRouterSafeSwitch: modelRouterSafeSwitch{},
}

// Lookup returns the registered action for id.
func Lookup(id string) (Action, bool) {
	a, ok := registry[id]
	return a, ok
}

// ActionIDs returns every registered action id, sorted.
func ActionIDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// nextInOrder returns the element after cur in order. ok is false when cur
// is last. An unknown cur starts the order from the beginning.
func nextInOrder(order []string, cur string) (string, bool) {
	i := model.IndexOf(order, cur)
	if i+1 >= len(order) {
		return "", false
	}
	return order[i+1], true
}

type switchFetchAdapter struct{}

func (switchFetchAdapter) ID() string     { return ActionSwitchFetchAdapter }
func (switchFetchAdapter) Safety() string { return SafetySafe }

func (switchFetchAdapter) Applicable(cfg model.RunConfig, _ *model.AttemptHistory) bool {
	_, ok := nextInOrder(model.FetchAdapterOrder, cfg.FetchAdapter)
	return ok
}

func (switchFetchAdapter) Apply(cfg model.RunConfig, _ *model.AttemptHistory) (model.RunConfig, string) {
	next, ok := nextInOrder(model.FetchAdapterOrder, cfg.FetchAdapter)
	if !ok {
		return cfg, fmt.Sprintf("fetch_adapter %s is the last adapter", cfg.FetchAdapter)
	}
	msg := fmt.Sprintf("fetch_adapter %s -> %s", cfg.FetchAdapter, next)
	cfg.FetchAdapter = next
	return cfg, msg
}

type increaseTopK struct{}

func (increaseTopK) ID() string     { return ActionIncreaseTopK }
func (increaseTopK) Safety() string { return SafetySafe }

func (increaseTopK) Applicable(cfg model.RunConfig, _ *model.AttemptHistory) bool {
	return cfg.TopK < TopKMax
}

func (increaseTopK) Apply(cfg model.RunConfig, _ *model.AttemptHistory) (model.RunConfig, string) {
	next := min(cfg.TopK+TopKStep, TopKMax)
	msg := fmt.Sprintf("top_k %d -> %d (max %d)", cfg.TopK, next, TopKMax)
	cfg.TopK = next
	return cfg, msg
}

type citationFirstPrompt struct{}

func (citationFirstPrompt) ID() string     { return ActionCitationFirstPrompt }
func (citationFirstPrompt) Safety() string { return SafetySafe }

func (citationFirstPrompt) Applicable(cfg model.RunConfig, _ *model.AttemptHistory) bool {
	return cfg.PromptMode != model.PromptModeCitationFirst
}

func (citationFirstPrompt) Apply(cfg model.RunConfig, _ *model.AttemptHistory) (model.RunConfig, string) {
	msg := fmt.Sprintf("prompt_mode %s -> %s", cfg.PromptMode, model.PromptModeCitationFirst)
	cfg.PromptMode = model.PromptModeCitationFirst
	return cfg, msg
}

type tightenMMR struct{}

func (tightenMMR) ID() string     { return ActionTightenMMR }
func (tightenMMR) Safety() string { return SafetySafe }

func (tightenMMR) Applicable(cfg model.RunConfig, _ *model.AttemptHistory) bool {
	return cfg.MMRLambda < MMRLambdaMax
}

func (tightenMMR) Apply(cfg model.RunConfig, _ *model.AttemptHistory) (model.RunConfig, string) {
	// Round to two places so repeated steps never drift (0.5+0.1+0.1 != 0.7).
	next := math.Min(math.Round((cfg.MMRLambda+MMRLambdaStep)*100)/100, MMRLambdaMax)
	msg := fmt.Sprintf("mmr_lambda %.2f -> %.2f (max %.2f)", cfg.MMRLambda, next, MMRLambdaMax)
	cfg.MMRLambda = next
	return cfg, msg
}

type budgetRebalance struct{}

func (budgetRebalance) ID() string     { return ActionBudgetRebalance }
func (budgetRebalance) Safety() string { return SafetySafe }

func (budgetRebalance) Applicable(cfg model.RunConfig, _ *model.AttemptHistory) bool {
	return cfg.MaxGenerationTokens > MinGenerationToks || cfg.BudgetPriority != model.BudgetPriorityRetrieval
}

func (budgetRebalance) Apply(cfg model.RunConfig, _ *model.AttemptHistory) (model.RunConfig, string) {
	next := max(cfg.MaxGenerationTokens/2, MinGenerationToks)
	msg := fmt.Sprintf("max_generation_tokens %d -> %d, budget_priority %s -> %s",
		cfg.MaxGenerationTokens, next, cfg.BudgetPriority, model.BudgetPriorityRetrieval)
	cfg.MaxGenerationTokens = next
	cfg.BudgetPriority = model.BudgetPriorityRetrieval
	return cfg, msg
}

type modelRouterSafeSwitch struct{}

func (modelRouterSafeSwitch) ID() string     { return ActionModelRouterSafeSwitch }
func (modelRouterSafeSwitch) Safety() string { return SafetySafe }

func (modelRouterSafeSwitch) Applicable(cfg model.RunConfig, _ *model.AttemptHistory) bool {
	_, ok := nextInOrder(model.ModelRouteOrder, cfg.ModelRoute)
	return ok
}

func (modelRouterSafeSwitch) Apply(cfg model.RunConfig, _ *model.AttemptHistory) (model.RunConfig, string) {
	next, ok := nextInOrder(model.ModelRouteOrder, cfg.ModelRoute)
	if !ok {
		return cfg, fmt.Sprintf("model_route %s is the last route", cfg.ModelRoute)
	}
	msg := fmt.Sprintf("model_route %s -> %s", cfg.ModelRoute, next)
	cfg.ModelRoute = next
	return cfg, msg
}
