// Package orchestrator drives one survey run through the repair loop: run an
// attempt, verify it, record it, then either stop or remediate the
// configuration and go again. Attempts run strictly one after another. Every
// run ends with a complete, validated bundle whatever its status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/shirabe/internal/archive"
	"github.com/ashita-ai/shirabe/internal/attempt"
	"github.com/ashita-ai/shirabe/internal/bundle"
	"github.com/ashita-ai/shirabe/internal/integrity"
	"github.com/ashita-ai/shirabe/internal/journal"
	"github.com/ashita-ai/shirabe/internal/model"
	"github.com/ashita-ai/shirabe/internal/quality"
	"github.com/ashita-ai/shirabe/internal/repair"
	"github.com/ashita-ai/shirabe/internal/runlock"
	"github.com/ashita-ai/shirabe/internal/storage"
	"github.com/ashita-ai/shirabe/internal/telemetry"
)

// Ledger records runs and attempts. *storage.DB satisfies it.
type Ledger interface {
	CreateRun(ctx context.Context, id uuid.UUID, query string, startedAt time.Time) error
	RecordAttempt(ctx context.Context, runID uuid.UUID, a model.RunAttempt, configDigest string) error
	FinishRun(ctx context.Context, id uuid.UUID, c storage.Completion) error
	SetArchiveURI(ctx context.Context, id uuid.UUID, uri string) error
}

// Options configures an Orchestrator. Only OutputDir is required.
type Options struct {
	// OutputDir is the parent of every run directory.
	OutputDir string
	// JournalSync is passed to the attempt journal ("full" or "none").
	JournalSync string
	Verifier    quality.Verifier

	// Optional collaborators. A nil Locker gets an in-process one.
	Ledger   Ledger
	Locker   runlock.Locker
	Archiver archive.Archiver

	// LockRenewInterval is how often the run lease is extended in the
	// background. Zero means a third of the lease TTL. The lease is also
	// extended before every attempt.
	LockRenewInterval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
	// InitialConfig builds the first attempt's configuration before policy
	// budget overrides. Defaults to model.DefaultRunConfig.
	InitialConfig func(query string) model.RunConfig
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID        uuid.UUID           `json:"run_id"`
	Status       model.RunStatus     `json:"status"`
	StopReason   string              `json:"stop_reason"`
	GatePassed   bool                `json:"gate_passed"`
	Attempts     int                 `json:"attempts"`
	ToolCalls    int64               `json:"tool_calls"`
	FailReasons  []model.FailReason  `json:"fail_reasons,omitempty"`
	Remediations []model.Remediation `json:"remediations,omitempty"`
	BundleDir    string              `json:"bundle_dir"`
	ManifestRoot string              `json:"manifest_root,omitempty"`
	ArchiveURI   string              `json:"archive_uri,omitempty"`
}

// Orchestrator runs repair loops. Separate runs may execute concurrently; the
// run lock keeps any one run id to a single loop.
type Orchestrator struct {
	runner     attempt.Runner
	opts       Options
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    instruments
	ownsLocker bool
}

// New creates an Orchestrator that runs attempts with runner.
func New(logger *slog.Logger, runner attempt.Runner, opts Options) *Orchestrator {
	o := &Orchestrator{
		runner:  runner,
		logger:  logger,
		tracer:  telemetry.Tracer("shirabe/orchestrator"),
		metrics: newInstruments(),
	}
	if opts.Locker == nil {
		opts.Locker = runlock.NewMemoryLocker(runlock.DefaultTTL)
		o.ownsLocker = true
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InitialConfig == nil {
		opts.InitialConfig = model.DefaultRunConfig
	}
	o.opts = opts
	return o
}

// Close releases resources the orchestrator created for itself.
func (o *Orchestrator) Close() error {
	if o.ownsLocker {
		return o.opts.Locker.Close()
	}
	return nil
}

// RunDir returns the bundle directory for runID.
func (o *Orchestrator) RunDir(runID uuid.UUID) string {
	return filepath.Join(o.opts.OutputDir, runID.String())
}

// Run executes a new run for in under policy p.
func (o *Orchestrator) Run(ctx context.Context, in model.Input, p repair.Policy) (Outcome, error) {
	return o.RunWithID(ctx, uuid.New(), in, p)
}

// RunWithID executes a run under a caller-chosen id. The Outcome is always
// populated; a non-nil error is a *SystemError, and unless the run lock or
// an existing directory stopped the run before it began, the bundle has
// still been written.
func (o *Orchestrator) RunWithID(ctx context.Context, runID uuid.UUID, in model.Input, p repair.Policy) (Outcome, error) {
	dir := o.RunDir(runID)
	early := Outcome{RunID: runID, BundleDir: dir}

	lease, err := o.opts.Locker.Acquire(ctx, runID)
	if err != nil {
		return early, &SystemError{Op: "lock", Err: err}
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("orchestrator: release run lock failed", "run_id", runID, "error", err)
		}
	}()
	keeper := runlock.Keep(context.WithoutCancel(ctx), lease, o.opts.LockRenewInterval)
	defer keeper.Stop()
	if err := ensureEmpty(dir); err != nil {
		return early, &SystemError{Op: "prepare", Err: err}
	}

	ctx, span := o.tracer.Start(ctx, "shirabe.run", trace.WithAttributes(
		attribute.String("shirabe.run_id", runID.String()),
		attribute.Int("shirabe.document_count", len(in.DocumentIDs)),
	))
	defer span.End()

	rc := o.newRunContext(runID, in, p, dir)
	rc.lock = keeper
	o.prepare(ctx, rc)
	if !rc.aborted() {
		o.loop(ctx, rc)
	}
	out := o.finish(ctx, rc)

	span.SetAttributes(
		attribute.String("shirabe.status", string(out.Status)),
		attribute.String("shirabe.stop_reason", out.StopReason),
		attribute.Int("shirabe.attempts", out.Attempts),
	)
	err = combine(rc.errs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return out, err
}

func (o *Orchestrator) newRunContext(runID uuid.UUID, in model.Input, p repair.Policy, dir string) *RunContext {
	cfg := p.ApplyBudget(o.opts.InitialConfig(in.Query))
	return &RunContext{
		RunID:     runID,
		Input:     in,
		Policy:    p.Clone(),
		History:   model.NewAttemptHistory(runID),
		Initial:   cfg,
		Config:    cfg,
		Dir:       dir,
		StartedAt: o.opts.Now(),
		planner:   repair.NewPlanner(p),
	}
}

// prepare opens the journal, registers the run in the ledger, and checks the
// input and policy. Every failure is recorded; the loop only starts when
// there were none.
func (o *Orchestrator) prepare(ctx context.Context, rc *RunContext) {
	j, err := journal.Open(o.logger, journal.Config{Dir: rc.Dir, RunID: rc.RunID, SyncMode: o.opts.JournalSync})
	if err != nil {
		rc.abort("journal", err)
	} else {
		rc.journal = j
	}
	if o.opts.Ledger != nil {
		if err := o.opts.Ledger.CreateRun(ctx, rc.RunID, rc.Input.Query, rc.StartedAt); err != nil {
			rc.abort("ledger", err)
		} else {
			rc.registered = true
		}
	}
	if err := validateInput(rc.Input); err != nil {
		rc.abort("input", err)
	}
	if err := rc.Policy.Validate(); err != nil {
		rc.abort("policy", err)
	}
}

func (o *Orchestrator) loop(ctx context.Context, rc *RunContext) {
	for {
		if err := ctx.Err(); err != nil {
			rc.abort("attempt", err)
			return
		}
		if err := rc.lock.Check(ctx); err != nil {
			rc.abort("lock", err)
			return
		}
		v, err := o.attempt(ctx, rc)
		if err != nil {
			rc.abort("attempt", err)
			return
		}
		if err := o.record(ctx, rc, v); err != nil {
			rc.abort("record", err)
			return
		}

		a := v.attempt
		if a.GatePassed {
			if err := rc.planner.Terminate(repair.StopPassed); err != nil {
				rc.abort("plan", err)
			}
			return
		}

		plan, err := rc.planner.Plan(repair.Extract(a.FailReasonCodes), rc.Config, rc.History, repair.Budget{
			Elapsed:   o.opts.Now().Sub(rc.StartedAt),
			ToolCalls: rc.ToolCalls,
		})
		if err != nil {
			rc.abort("plan", err)
			return
		}
		if plan.Terminated() {
			o.logger.Info("orchestrator: loop stopped",
				"run_id", rc.RunID, "attempt", a.AttemptIndex, "stop_reason", plan.Stop)
			return
		}

		next, rem, err := rc.planner.Apply(rc.Config, rc.History)
		if err != nil {
			rc.abort("plan", err)
			return
		}
		o.logger.Info("orchestrator: remediation applied",
			"run_id", rc.RunID, "after_attempt", a.AttemptIndex,
			"action", rem.ActionID, "rule", rem.Rule, "message", rem.Message)
		o.metrics.remediation(ctx, rem.ActionID)
		rc.Config = next
		rc.pending = &rem
		if err := rc.planner.Loop(); err != nil {
			rc.abort("plan", err)
			return
		}
	}
}

// verified is one attempt after the gate has judged it.
type verified struct {
	attempt   model.RunAttempt
	artifacts model.Artifacts
	reasons   []model.FailReason
}

// attempt runs the collaborator to completion and verifies its output.
func (o *Orchestrator) attempt(ctx context.Context, rc *RunContext) (verified, error) {
	index := rc.History.Len() + 1
	ctx, span := o.tracer.Start(ctx, "shirabe.attempt", trace.WithAttributes(
		attribute.Int("shirabe.attempt_index", index),
		attribute.String("shirabe.fetch_adapter", rc.Config.FetchAdapter),
		attribute.String("shirabe.model_route", rc.Config.ModelRoute),
	))
	defer span.End()

	budget := attempt.NewToolBudget(attemptCeiling(rc))
	started := o.opts.Now()
	out, err := o.runner.RunAttempt(ctx, attempt.Request{
		RunID:        rc.RunID,
		AttemptIndex: index,
		Input:        rc.Input,
		Config:       rc.Config,
		Budget:       budget,
	})
	rc.ToolCalls += budget.Used()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return verified{}, fmt.Errorf("attempt %d: %w", index, err)
	}
	ended := o.opts.Now()

	verdict := o.opts.Verifier.Verify(out.Artifacts)
	codes, reasons := mergeStageErrors(verdict, out.Artifacts.StageErrors)
	a := model.RunAttempt{
		AttemptIndex:    index,
		StartedAt:       started,
		EndedAt:         ended,
		ConfigSnapshot:  rc.Config,
		RawMetrics:      out.RawMetrics,
		FailReasonCodes: codes,
		GatePassed:      len(codes) == 0,
		Metrics:         verdict.Metrics,
		ToolCalls:       budget.Used(),
		Remediation:     rc.pending,
	}
	span.SetAttributes(
		attribute.Bool("shirabe.gate_passed", a.GatePassed),
		attribute.StringSlice("shirabe.fail_reason_codes", codeStrings(codes)),
		attribute.Int64("shirabe.tool_calls", a.ToolCalls),
	)
	return verified{attempt: a, artifacts: out.Artifacts, reasons: reasons}, nil
}

// record appends a verified attempt to the history, the journal and the
// ledger, in that order.
func (o *Orchestrator) record(ctx context.Context, rc *RunContext, v verified) error {
	a := v.attempt
	if err := rc.History.Append(a); err != nil {
		return err
	}
	rc.artifacts = v.artifacts
	rc.reasons = v.reasons
	rc.pending = nil

	o.metrics.attempt(ctx, a)
	o.logger.Info("orchestrator: attempt verified",
		"run_id", rc.RunID, "attempt", a.AttemptIndex, "gate_passed", a.GatePassed,
		"codes", a.FailReasonCodes, "tool_calls", a.ToolCalls)

	if err := rc.journal.Append(a); err != nil {
		return err
	}
	if o.opts.Ledger != nil {
		if err := o.opts.Ledger.RecordAttempt(ctx, rc.RunID, a, integrity.ConfigDigest(a.ConfigSnapshot)); err != nil {
			return err
		}
	}
	return nil
}

// finish decides the terminal status, writes and finalizes the bundle, seals
// the journal, closes the ledger row and archives the bundle. It runs for
// every run that got past the lock, aborted or not.
func (o *Orchestrator) finish(ctx context.Context, rc *RunContext) Outcome {
	if rc.planner.State() != repair.StateTerminated {
		if err := rc.planner.Terminate(repair.StopSystemError); err != nil {
			rc.abort("plan", err)
		}
	}
	stop := string(rc.StopReason())
	now := o.opts.Now()
	status, gatePassed, reasons := rc.terminal()

	out := Outcome{
		RunID:        rc.RunID,
		Status:       status,
		StopReason:   stop,
		GatePassed:   gatePassed,
		Attempts:     rc.History.Len(),
		ToolCalls:    rc.ToolCalls,
		Remediations: rc.Remediations(),
		BundleDir:    rc.Dir,
	}
	if !gatePassed {
		out.FailReasons = reasons
	}

	contents := buildContents(rc, status, gatePassed, reasons, now)
	manifest, finalized := o.writeBundle(rc, contents, now)
	if finalized {
		out.ManifestRoot = manifest.Root
	}

	// Bookkeeping below must land even when the caller has given up.
	bg := context.WithoutCancel(ctx)
	if rc.journal != nil {
		if err := rc.journal.Seal(status, stop, now); err != nil {
			rc.abort("journal", err)
		}
		if err := rc.journal.Close(); err != nil {
			rc.abort("journal", err)
		}
	}
	if rc.registered {
		err := o.opts.Ledger.FinishRun(bg, rc.RunID, storage.Completion{
			Status:     status,
			StopReason: stop,
			BundleDir:  rc.Dir,
			BundleRoot: out.ManifestRoot,
			FinishedAt: now,
		})
		if err != nil {
			rc.abort("ledger", err)
		}
	}
	if finalized && o.opts.Archiver != nil {
		uri, err := o.opts.Archiver.Archive(ctx, rc.RunID, rc.Dir)
		if err != nil {
			rc.abort("archive", err)
		} else {
			out.ArchiveURI = uri
			if rc.registered {
				if err := o.opts.Ledger.SetArchiveURI(bg, rc.RunID, uri); err != nil {
					rc.abort("ledger", err)
				}
			}
		}
	}

	o.metrics.run(ctx, status, stop)
	o.logger.Info("orchestrator: run finished",
		"run_id", rc.RunID, "status", status, "stop_reason", stop,
		"attempts", out.Attempts, "tool_calls", out.ToolCalls, "system_errors", len(rc.errs))
	return out
}

// writeBundle writes every contract file, then validates and seals the
// directory in one Finalize pass. It reports whether the manifest was
// written.
func (o *Orchestrator) writeBundle(rc *RunContext, c bundle.Contents, now time.Time) (bundle.Manifest, bool) {
	w, err := bundle.NewWriter(o.logger, rc.Dir)
	if err != nil {
		rc.abort("bundle", err)
		return bundle.Manifest{}, false
	}
	if err := w.WriteAll(c); err != nil {
		rc.abort("bundle", err)
	}
	m, err := bundle.Finalize(rc.Dir, rc.RunID, c.Result.Status, now)
	if err != nil {
		rc.abort("bundle", err)
		return bundle.Manifest{}, false
	}
	return m, true
}

// attemptCeiling is the tool-call ceiling for the next attempt: the run's
// remaining allowance, narrowed by the configured per-attempt ceiling.
// CheckStop keeps the remaining allowance positive before any attempt after
// the first.
func attemptCeiling(rc *RunContext) int64 {
	remaining := rc.Policy.MaxToolCalls - rc.ToolCalls
	if c := rc.Config.ToolCallCeiling; c > 0 && c < remaining {
		return c
	}
	return remaining
}

// mergeStageErrors appends collaborator stage codes after the gate codes.
// Any stage error fails the attempt.
func mergeStageErrors(v quality.Verdict, stageErrs []model.StageError) ([]model.FailReasonCode, []model.FailReason) {
	codes := slices.Clone(v.Codes)
	reasons := slices.Clone(v.Reasons)
	for _, se := range stageErrs {
		code := se.Code
		if code == "" {
			code = model.CodeModelError
		}
		if slices.Contains(codes, code) {
			continue
		}
		msg := code.Message()
		if se.Message != "" {
			msg = se.Message
			if se.Stage != "" {
				msg = se.Stage + ": " + msg
			}
		}
		codes = append(codes, code)
		reasons = append(reasons, model.FailReason{Code: code, Msg: msg})
	}
	return codes, reasons
}

func validateInput(in model.Input) error {
	var errs []error
	if strings.TrimSpace(in.Query) == "" {
		errs = append(errs, errors.New("query is required"))
	}
	if len(in.DocumentIDs) == 0 {
		errs = append(errs, errors.New("at least one document id is required"))
	}
	for i, id := range in.DocumentIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("document_ids[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

func ensureEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read run directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrRunExists, dir)
	}
	return nil
}

func codeStrings(codes []model.FailReasonCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}
