package model

// Fetch adapters in the order SWITCH_FETCH_ADAPTER cycles through them.
const (
	AdapterLocalCache  = "local_cache"
	AdapterPrimaryOA   = "primary_oa"
	AdapterSecondaryOA = "secondary_oa"
	AdapterHTML        = "html_fallback"
)

// FetchAdapterOrder is the fixed adapter cycle.
var FetchAdapterOrder = []string{AdapterLocalCache, AdapterPrimaryOA, AdapterSecondaryOA, AdapterHTML}

// Model routes in the order MODEL_ROUTER_SAFE_SWITCH falls back through them.
const (
	ModelRouteDefault  = "default"
	ModelRouteFallback = "fallback"
	ModelRouteSafe     = "safe"
)

// ModelRouteOrder is the fixed model fallback order.
var ModelRouteOrder = []string{ModelRouteDefault, ModelRouteFallback, ModelRouteSafe}

// Prompt modes.
const (
	PromptModeStandard      = "standard"
	PromptModeCitationFirst = "citation_first"
)

// Budget priorities.
const (
	BudgetPriorityGeneration = "generation"
	BudgetPriorityRetrieval  = "retrieval"
)

// RunConfig is the mutable run configuration that remediation actions
// transform between attempts. It is a plain value: copying it copies
// everything.
type RunConfig struct {
	Query               string  `json:"query"`
	FetchAdapter        string  `json:"fetch_adapter"`
	TopK                int     `json:"top_k"`
	MMRLambda           float64 `json:"mmr_lambda"`
	PromptMode          string  `json:"prompt_mode"`
	MaxGenerationTokens int     `json:"max_generation_tokens"`
	BudgetPriority      string  `json:"budget_priority"`
	ModelRoute          string  `json:"model_route"`
	ToolCallCeiling     int64   `json:"tool_call_ceiling,omitempty"`
}

// DefaultRunConfig returns the configuration used for a run's first attempt
// before policy overrides are applied.
func DefaultRunConfig(query string) RunConfig {
	return RunConfig{
		Query:               query,
		FetchAdapter:        AdapterLocalCache,
		TopK:                10,
		MMRLambda:           0.5,
		PromptMode:          PromptModeStandard,
		MaxGenerationTokens: 4096,
		BudgetPriority:      BudgetPriorityGeneration,
		ModelRoute:          ModelRouteDefault,
	}
}

// IndexOf returns the position of v in order, or -1.
func IndexOf(order []string, v string) int {
	for i, o := range order {
		if o == v {
			return i
		}
	}
	return -1
}
