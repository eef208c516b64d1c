package orchestrator

import (
	"slices"
	"time"

	"github.com/ashita-ai/shirabe/internal/bundle"
	"github.com/ashita-ai/shirabe/internal/model"
)

// WarningCodeSystemError tags warnings that carry a system error into the
// bundle.
const WarningCodeSystemError = "SYSTEM_ERROR"

// buildContents assembles the bundle from the last verified attempt. Before
// any attempt is verified the artifact files are empty and the records carry
// VERIFY_NOT_RUN.
func buildContents(rc *RunContext, status model.RunStatus, gatePassed bool, reasons []model.FailReason, now time.Time) bundle.Contents {
	art := rc.artifacts
	last, _ := rc.History.Last()

	gate := model.GateStatusFail
	if gatePassed {
		gate = model.GateStatusPass
	}
	if reasons == nil {
		reasons = []model.FailReason{}
	}
	var resultReasons []model.FailReason
	if status != model.RunStatusSuccess {
		resultReasons = reasons
	}

	warnings := slices.Clone(art.Warnings)
	for _, e := range rc.errs {
		warnings = append(warnings, model.Warning{
			Stage:   "orchestrator",
			Code:    WarningCodeSystemError,
			Message: e.Error(),
		})
	}

	return bundle.Contents{
		Input: model.InputRecord{RunID: rc.RunID, Input: rc.Input, CreatedAt: rc.StartedAt.UTC()},
		Config: model.ConfigRecord{
			RunID:   rc.RunID,
			Initial: rc.Initial,
			Final:   rc.Config,
			Policy:  rc.Policy,
		},
		Sources:  art.Sources,
		Claims:   art.Claims,
		Evidence: art.Evidence,
		Scores:   art.Scores,
		Result: model.ResultRecord{
			RunID:       rc.RunID,
			Status:      status,
			Answer:      art.Answer,
			Citations:   art.Citations,
			FailReasons: resultReasons,
			Attempts:    rc.History.Len(),
			CompletedAt: now.UTC(),
		},
		Eval: model.EvalSummary{
			RunID:        rc.RunID,
			Status:       gate,
			GatePassed:   gatePassed,
			FailReasons:  reasons,
			Metrics:      last.Metrics,
			Remediations: rc.Remediations(),
			StopReason:   string(rc.StopReason()),
		},
		Warnings: warnings,
	}
}
