package shirabe

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger          *slog.Logger
	version         string
	outputDir       string
	corpusDir       string
	policyPath      string
	ledgerDSN       string
	redisURL        string
	archiver        Archiver
	extraMigrations []fs.FS
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithOutputDir overrides the parent directory for run bundles (SHIRABE_OUTPUT_DIR).
func WithOutputDir(dir string) Option {
	return func(o *resolvedOptions) { o.outputDir = dir }
}

// WithCorpusDir overrides the local document corpus root (SHIRABE_CORPUS_DIR).
func WithCorpusDir(dir string) Option {
	return func(o *resolvedOptions) { o.corpusDir = dir }
}

// WithPolicyPath overrides the default repair policy file (SHIRABE_POLICY).
func WithPolicyPath(path string) Option {
	return func(o *resolvedOptions) { o.policyPath = path }
}

// WithLedgerDSN overrides the run ledger location (SHIRABE_LEDGER_DSN).
// A postgres:// URL selects Postgres; anything else is a SQLite path.
func WithLedgerDSN(dsn string) Option {
	return func(o *resolvedOptions) { o.ledgerDSN = dsn }
}

// WithRedisURL overrides REDIS_URL. A non-empty URL makes the run lock
// shared across processes.
func WithRedisURL(url string) Option {
	return func(o *resolvedOptions) { o.redisURL = url }
}

// WithArchiver replaces the configured bundle archiver.
// Only the last call wins.
func WithArchiver(a Archiver) Option {
	return func(o *resolvedOptions) { o.archiver = a }
}

// WithExtraMigrations adds an SQL migration filesystem to run after the
// built-in ledger migrations. Multiple filesystems are applied in
// registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
