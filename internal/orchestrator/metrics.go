package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/shirabe/internal/model"
	"github.com/ashita-ai/shirabe/internal/telemetry"
)

type instruments struct {
	attempts        metric.Int64Counter
	remediations    metric.Int64Counter
	runs            metric.Int64Counter
	attemptDuration metric.Float64Histogram
}

// newInstruments creates the orchestrator's instruments on the global meter.
// Creation errors leave a nil instrument, which record skips.
func newInstruments() instruments {
	meter := telemetry.Meter("shirabe/orchestrator")
	attempts, _ := meter.Int64Counter("shirabe.attempts",
		metric.WithDescription("Attempts that reached the quality gate"),
	)
	remediations, _ := meter.Int64Counter("shirabe.remediations",
		metric.WithDescription("Remediation actions applied between attempts"),
	)
	runs, _ := meter.Int64Counter("shirabe.runs",
		metric.WithDescription("Runs by terminal status"),
	)
	dur, _ := meter.Float64Histogram("shirabe.attempt.duration",
		metric.WithDescription("Wall time of one attempt (ms)"),
		metric.WithUnit("ms"),
	)
	return instruments{attempts: attempts, remediations: remediations, runs: runs, attemptDuration: dur}
}

func (in instruments) attempt(ctx context.Context, a model.RunAttempt) {
	attrs := metric.WithAttributes(
		attribute.Bool("gate_passed", a.GatePassed),
		attribute.String("fetch_adapter", a.ConfigSnapshot.FetchAdapter),
	)
	if in.attempts != nil {
		in.attempts.Add(ctx, 1, attrs)
	}
	if in.attemptDuration != nil {
		in.attemptDuration.Record(ctx, float64(a.EndedAt.Sub(a.StartedAt).Milliseconds()), attrs)
	}
}

func (in instruments) remediation(ctx context.Context, actionID string) {
	if in.remediations != nil {
		in.remediations.Add(ctx, 1, metric.WithAttributes(attribute.String("action", actionID)))
	}
}

func (in instruments) run(ctx context.Context, status model.RunStatus, stop string) {
	if in.runs != nil {
		in.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(status)),
			attribute.String("stop_reason", stop),
		))
	}
}
