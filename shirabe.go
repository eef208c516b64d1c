// Package shirabe is the public API for embedding the shirabe survey runner.
//
// A run answers one survey question from a set of documents, checks the
// answer against a quality gate, and repairs its own configuration between
// attempts until the gate passes or the repair policy's bounds are reached.
// Every run leaves a complete artifact bundle on disk.
//
//	app, err := shirabe.New(ctx,
//	    shirabe.WithLogger(logger),
//	    shirabe.WithCorpusDir("corpus"),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//	out, err := app.Run(ctx, shirabe.Input{Query: q, DocumentIDs: ids}, "")
//
// The import graph enforces a strict no-cycle rule: shirabe (root) imports
// internal/*, but internal/* never imports shirabe (root). Conversion helpers
// live here because this is the only file that sees both sides of the
// boundary.
package shirabe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/shirabe/internal/archive"
	"github.com/ashita-ai/shirabe/internal/bundle"
	"github.com/ashita-ai/shirabe/internal/config"
	"github.com/ashita-ai/shirabe/internal/journal"
	"github.com/ashita-ai/shirabe/internal/model"
	"github.com/ashita-ai/shirabe/internal/orchestrator"
	"github.com/ashita-ai/shirabe/internal/pipeline"
	"github.com/ashita-ai/shirabe/internal/quality"
	"github.com/ashita-ai/shirabe/internal/repair"
	"github.com/ashita-ai/shirabe/internal/runlock"
	"github.com/ashita-ai/shirabe/internal/storage"
	"github.com/ashita-ai/shirabe/internal/telemetry"
	"github.com/ashita-ai/shirabe/migrations"
)

// App wires the runner, the repair loop and its storage. Construct with New
// and release with Close. Configure it through New options.
type App struct {
	cfg          config.Config
	db           *storage.DB
	locker       runlock.Locker
	orch         *orchestrator.Orchestrator
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens and migrates the run ledger, and wires the
// run lock, archiver, attempt runner and orchestrator.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("shirabe starting", "version", version, "output_dir", cfg.OutputDir, "ledger", storage.DriverFor(cfg.LedgerDSN))

	// Everything opened so far is closed, in reverse, if a later step fails.
	var closers []func()
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	closers = append(closers, func() { _ = otelShutdown(context.Background()) })

	db, err := storage.Open(ctx, cfg.LedgerDSN, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = db.Close() })
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			return fail(fmt.Errorf("extra migrations[%d]: %w", i, err))
		}
	}

	var locker runlock.Locker
	if cfg.RedisURL != "" {
		rl, err := runlock.NewRedisLocker(ctx, cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			return fail(err)
		}
		locker = rl
		logger.Info("run lock: redis", "ttl", cfg.LockTTL)
	} else {
		locker = runlock.NewMemoryLocker(cfg.LockTTL)
		logger.Info("run lock: memory (in-process)")
	}
	closers = append(closers, func() { _ = locker.Close() })

	var archiver archive.Archiver
	switch {
	case o.archiver != nil:
		archiver = o.archiver
	case cfg.ArchiveEnabled:
		mc, err := archive.New(logger, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccess,
			SecretKey: cfg.ArchiveSecret,
			Bucket:    cfg.ArchiveBucket,
			Prefix:    cfg.ArchivePrefix,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			return fail(err)
		}
		if err := mc.EnsureBucket(ctx); err != nil {
			return fail(err)
		}
		archiver = mc
		logger.Info("archive: enabled", "endpoint", cfg.ArchiveEndpoint, "bucket", cfg.ArchiveBucket)
	default:
		logger.Info("archive: disabled")
	}

	runner := pipeline.New(logger, pipeline.Config{CorpusDir: cfg.CorpusDir, Workers: cfg.Workers})
	orch := orchestrator.New(logger, runner, orchestrator.Options{
		OutputDir:   cfg.OutputDir,
		JournalSync: cfg.JournalSync,
		Verifier:    quality.Verifier{StrengthThreshold: cfg.StrengthThreshold},
		Ledger:      db,
		Locker:      locker,
		Archiver:    archiver,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		locker:       locker,
		orch:         orch,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

func applyOverrides(cfg *config.Config, o resolvedOptions) {
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.corpusDir != "" {
		cfg.CorpusDir = o.corpusDir
	}
	if o.policyPath != "" {
		cfg.PolicyPath = o.policyPath
	}
	if o.ledgerDSN != "" {
		cfg.LedgerDSN = o.ledgerDSN
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
}

// Run executes one survey run. policyPath overrides the configured policy
// file; when both are empty the default policy applies. A policy file that
// cannot be read or parsed is a system error returned before the run starts,
// so no bundle exists for it. Every other system error is returned alongside
// an Outcome whose bundle has been written.
func (a *App) Run(ctx context.Context, in Input, policyPath string) (Outcome, error) {
	p, err := a.policy(policyPath)
	if err != nil {
		return Outcome{}, err
	}
	if a.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancel()
	}
	out, err := a.orch.Run(ctx, model.Input{
		Query:       in.Query,
		DocumentIDs: in.DocumentIDs,
		Metadata:    in.Metadata,
	}, p)
	return toPublicOutcome(out), err
}

func (a *App) policy(path string) (repair.Policy, error) {
	if path == "" {
		path = a.cfg.PolicyPath
	}
	if path == "" {
		return repair.DefaultPolicy(), nil
	}
	p, err := repair.LoadPolicy(path)
	if err != nil {
		return repair.Policy{}, &orchestrator.SystemError{Op: "policy", Err: fmt.Errorf("load %s: %w", path, err)}
	}
	return p, nil
}

// Runs lists the most recent runs in the ledger, newest first.
func (a *App) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	runs, err := a.db.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = RunSummary{
			ID:         r.ID,
			Query:      r.Query,
			Status:     r.Status,
			StopReason: r.StopReason,
			Attempts:   r.Attempts,
			BundleDir:  r.BundleDir,
			BundleRoot: r.BundleRoot,
			ArchiveURI: r.ArchiveURI,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		}
	}
	return out, nil
}

// Close releases the orchestrator, run lock, ledger and telemetry providers.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.orch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.locker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("run lock: %w", err))
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.otelShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	a.logger.Info("shirabe stopped")
	return errors.Join(errs...)
}

// IsSystemError reports whether err from Run is a system error. A run that
// fails the gate is not an error.
func IsSystemError(err error) bool {
	return orchestrator.IsSystemError(err)
}

// ValidateBundle checks a bundle directory: every contract file is present,
// result and evaluation agree on the status rules, and the manifest matches
// the files on disk.
func ValidateBundle(dir string) BundleReport {
	report := BundleReport{Dir: dir}
	missing, err := bundle.Validate(dir)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report
	}
	if len(missing) > 0 {
		report.Missing = missing
		return report
	}
	if err := bundle.CheckConsistency(dir); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}
	if err := bundle.VerifyManifest(dir); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}
	return report
}

// History reads the attempt journal of the run whose bundle is in dir. An
// unsealed journal belongs to a run that did not finish.
func History(dir string, logger *slog.Logger) (RunHistory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runID, attempts, err := journal.Recover(logger, dir)
	if err != nil {
		return RunHistory{}, err
	}
	h := RunHistory{RunID: runID, Attempts: make([]AttemptSummary, len(attempts))}
	for i, a := range attempts {
		h.Attempts[i] = toAttemptSummary(a)
	}
	cp, err := journal.ReadCheckpoint(dir)
	switch {
	case err == nil:
		sealedAt := cp.SealedAt
		h.Sealed = true
		h.Status = Status(cp.Status)
		h.StopReason = cp.StopReason
		h.SealedAt = &sealedAt
	case !errors.Is(err, fs.ErrNotExist):
		return RunHistory{}, err
	}
	return h, nil
}

func toPublicOutcome(o orchestrator.Outcome) Outcome {
	out := Outcome{
		RunID:        o.RunID,
		Status:       Status(o.Status),
		StopReason:   o.StopReason,
		GatePassed:   o.GatePassed,
		Attempts:     o.Attempts,
		ToolCalls:    o.ToolCalls,
		BundleDir:    o.BundleDir,
		ManifestRoot: o.ManifestRoot,
		ArchiveURI:   o.ArchiveURI,
	}
	for _, r := range o.FailReasons {
		out.FailReasons = append(out.FailReasons, FailReason{Code: string(r.Code), Message: r.Msg})
	}
	for _, r := range o.Remediations {
		out.Remediations = append(out.Remediations, Remediation{
			ActionID:     r.ActionID,
			Rule:         r.Rule,
			Message:      r.Message,
			ConfigDigest: r.ConfigDigest,
		})
	}
	return out
}

func toAttemptSummary(a model.RunAttempt) AttemptSummary {
	s := AttemptSummary{
		Index:        a.AttemptIndex,
		StartedAt:    a.StartedAt,
		EndedAt:      a.EndedAt,
		GatePassed:   a.GatePassed,
		FailReasons:  make([]string, len(a.FailReasonCodes)),
		ToolCalls:    a.ToolCalls,
		FetchAdapter: a.ConfigSnapshot.FetchAdapter,
		TopK:         a.ConfigSnapshot.TopK,
	}
	for i, c := range a.FailReasonCodes {
		s.FailReasons[i] = string(c)
	}
	if a.Remediation != nil {
		s.Remediation = a.Remediation.ActionID
	}
	return s
}
