// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Run layout.
	OutputDir  string // Parent directory for per-run bundle directories.
	CorpusDir  string // Root of the local document corpus.
	PolicyPath string // Optional JSON or YAML repair policy file.

	// Attempt runner settings.
	Workers           int     // Concurrent fetches per attempt; 0 = GOMAXPROCS.
	StrengthThreshold float64 // Minimum evidence strength for a passing citation.
	RunTimeout        time.Duration

	// Ledger settings.
	LedgerDSN string // SQLite path or postgres:// URL.

	// Journal settings.
	JournalSync string // "full" or "none".

	// Run lock settings. An empty RedisURL selects the in-process lock.
	RedisURL string
	LockTTL  time.Duration

	// Archive settings (S3-compatible object storage).
	ArchiveEnabled  bool
	ArchiveEndpoint string
	ArchiveAccess   string
	ArchiveSecret   string
	ArchiveBucket   string
	ArchivePrefix   string
	ArchiveUseSSL   bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	flt := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		OutputDir:         str("SHIRABE_OUTPUT_DIR", "runs"),
		CorpusDir:         str("SHIRABE_CORPUS_DIR", "corpus"),
		PolicyPath:        str("SHIRABE_POLICY", ""),
		Workers:           num("SHIRABE_WORKERS", 0),
		StrengthThreshold: flt("SHIRABE_STRENGTH_THRESHOLD", 0.35),
		RunTimeout:        dur("SHIRABE_RUN_TIMEOUT", 0),
		LedgerDSN:         str("SHIRABE_LEDGER_DSN", "shirabe.db"),
		JournalSync:       str("SHIRABE_JOURNAL_SYNC", "full"),
		RedisURL:          str("REDIS_URL", ""),
		LockTTL:           dur("SHIRABE_LOCK_TTL", 15*time.Minute),
		ArchiveEnabled:    flag("SHIRABE_ARCHIVE_ENABLED", false),
		ArchiveEndpoint:   str("MINIO_ENDPOINT", "localhost:9000"),
		ArchiveAccess:     str("MINIO_ACCESS_KEY", ""),
		ArchiveSecret:     str("MINIO_SECRET_KEY", ""),
		ArchiveBucket:     str("SHIRABE_ARCHIVE_BUCKET", "shirabe-bundles"),
		ArchivePrefix:     str("SHIRABE_ARCHIVE_PREFIX", ""),
		ArchiveUseSSL:     flag("MINIO_USE_SSL", false),
		OTELEndpoint:      str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:      flag("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:       str("OTEL_SERVICE_NAME", "shirabe"),
		LogLevel:          str("SHIRABE_LOG_LEVEL", "info"),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	var errs []error
	if c.OutputDir == "" {
		errs = append(errs, errors.New("SHIRABE_OUTPUT_DIR is required"))
	}
	if c.LedgerDSN == "" {
		errs = append(errs, errors.New("SHIRABE_LEDGER_DSN is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("SHIRABE_WORKERS must not be negative"))
	}
	if c.StrengthThreshold < 0 || c.StrengthThreshold > 1 {
		errs = append(errs, errors.New("SHIRABE_STRENGTH_THRESHOLD must be within [0, 1]"))
	}
	if c.RunTimeout < 0 {
		errs = append(errs, errors.New("SHIRABE_RUN_TIMEOUT must not be negative"))
	}
	switch c.JournalSync {
	case "full", "none":
	default:
		errs = append(errs, fmt.Errorf("SHIRABE_JOURNAL_SYNC=%q must be full or none", c.JournalSync))
	}
	if c.ArchiveEnabled && (c.ArchiveAccess == "" || c.ArchiveSecret == "") {
		errs = append(errs, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when SHIRABE_ARCHIVE_ENABLED is set"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("SHIRABE_LOG_LEVEL=%q must be debug, info, warn or error", c.LogLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
