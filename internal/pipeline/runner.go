// Package pipeline is the local attempt runner: it fetches documents from an
// on-disk corpus, indexes them into paragraph passages, ranks passages with
// lexical relevance and MMR, and writes an extractive, cited answer.
//
// Corpus layout:
//
//	<corpus>/<adapter>/<document-id>.txt    (local_cache, primary_oa, secondary_oa)
//	<corpus>/html_fallback/<document-id>.html
package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/ashita-ai/shirabe/internal/attempt"
	"github.com/ashita-ai/shirabe/internal/model"
)

// Config configures the local runner.
type Config struct {
	CorpusDir string
	// Workers bounds concurrent fetches. Zero means GOMAXPROCS.
	Workers int
}

// Runner implements attempt.Runner over a local corpus.
type Runner struct {
	logger *slog.Logger
	cfg    Config
}

var _ attempt.Runner = (*Runner)(nil)

// New returns a runner for cfg.
func New(logger *slog.Logger, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{logger: logger, cfg: cfg}
}

// RunAttempt runs fetch, index, rank and generate for one attempt. All
// concurrent fetches are joined before ranking starts.
func (r *Runner) RunAttempt(ctx context.Context, req attempt.Request) (attempt.Output, error) {
	start := time.Now()
	cfg := req.Config
	budget := req.Budget
	if budget == nil {
		budget = attempt.NewToolBudget(cfg.ToolCallCeiling)
	}

	fetched, err := r.fetchAll(ctx, req.Input.DocumentIDs, cfg.FetchAdapter, budget)
	if err != nil {
		return attempt.Output{}, err
	}

	index := buildIndex(fetched.docs)
	selected, scores := rank(index, cfg.Query, cfg.TopK, cfg.MMRLambda)
	d := generate(selected, cfg)

	// Attach claim ids to the score rows of passages that became claims.
	for _, ev := range d.evidence {
		for _, p := range selected {
			if p.docID == ev.Locator.DocumentID && p.start == ev.Locator.SpanStart {
				scores[p.pos].ClaimID = ev.ClaimID
			}
		}
	}

	var warnings []model.Warning
	if len(index) > 0 && len(selected) == 0 {
		warnings = append(warnings, model.Warning{Stage: "rank", Code: "NO_RELEVANT_PASSAGES", Message: "no passage shares a term with the query"})
	}
	warnings = append(warnings, d.warnings...)

	tokenCeiling := cfg.MaxGenerationTokens
	if cfg.BudgetPriority == model.BudgetPriorityRetrieval {
		// Retrieval priority never overruns: generate stops at the ceiling.
		tokenCeiling = 0
	}

	toolCalls := max(budget.Used(), fetched.requested)
	art := model.Artifacts{
		Answer:         d.answer,
		Sources:        fetched.sources,
		Claims:         d.claims,
		Evidence:       d.evidence,
		Citations:      d.citations,
		Scores:         scores,
		Warnings:       warnings,
		FetchFailures:  fetched.failures,
		IndexAvailable: len(index) > 0,
		Usage: model.ResourceUsage{
			ToolCalls:        toolCalls,
			ToolCallCeiling:  budget.Ceiling(),
			GenerationTokens: d.tokens,
			TokenCeiling:     tokenCeiling,
		},
	}

	r.logger.Debug("pipeline: attempt complete",
		"run_id", req.RunID,
		"attempt", req.AttemptIndex,
		"adapter", cfg.FetchAdapter,
		"fetched", len(fetched.docs),
		"passages", len(index),
		"selected", len(selected),
		"citations", len(d.citations),
	)

	return attempt.Output{
		Artifacts: art,
		RawMetrics: map[string]float64{
			"documents_requested": float64(len(req.Input.DocumentIDs)),
			"documents_fetched":   float64(len(fetched.docs)),
			"passages_indexed":    float64(len(index)),
			"candidates":          float64(len(scores)),
			"passages_selected":   float64(len(selected)),
			"generation_tokens":   float64(d.tokens),
			"tool_calls":          float64(toolCalls),
			"duration_ms":         float64(time.Since(start).Milliseconds()),
		},
	}, nil
}
