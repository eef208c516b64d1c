package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shirabe/internal/model"
)

// ErrNotFound is returned when no ledger row has the requested run id.
var ErrNotFound = errors.New("storage: run not found")

// RunStatusRunning marks a ledger row whose run has not terminated.
const RunStatusRunning = "running"

const (
	retryAttempts = 3
	retryDelay    = 20 * time.Millisecond
)

// Run is one ledger row.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Query      string     `json:"query"`
	Status     string     `json:"status"`
	StopReason string     `json:"stop_reason,omitempty"`
	Attempts   int        `json:"attempts"`
	BundleDir  string     `json:"bundle_dir,omitempty"`
	BundleRoot string     `json:"bundle_root,omitempty"`
	ArchiveURI string     `json:"archive_uri,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// AttemptRow is the ledger's summary of one attempt.
type AttemptRow struct {
	RunID           uuid.UUID              `json:"run_id"`
	AttemptIndex    int                    `json:"attempt_index"`
	GatePassed      bool                   `json:"gate_passed"`
	FailReasonCodes []model.FailReasonCode `json:"fail_reason_codes"`
	ActionID        string                 `json:"action_id,omitempty"`
	ConfigDigest    string                 `json:"config_digest"`
	Metrics         model.QualityMetrics   `json:"metrics"`
	ToolCalls       int64                  `json:"tool_calls"`
	StartedAt       time.Time              `json:"started_at"`
	EndedAt         time.Time              `json:"ended_at"`
}

// Completion is the terminal state recorded by FinishRun.
type Completion struct {
	Status     model.RunStatus
	StopReason string
	BundleDir  string
	BundleRoot string
	FinishedAt time.Time
}

// CreateRun inserts a new run in the running state.
func (db *DB) CreateRun(ctx context.Context, id uuid.UUID, query string, startedAt time.Time) error {
	_, err := db.sql.ExecContext(ctx,
		db.rebind(`INSERT INTO runs (id, query, status, started_at) VALUES ($1, $2, $3, $4)`),
		id.String(), query, RunStatusRunning, startedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// RecordAttempt inserts one attempt and bumps the run's attempt count in a
// single transaction. Transient conflicts are retried.
func (db *DB) RecordAttempt(ctx context.Context, runID uuid.UUID, a model.RunAttempt, configDigest string) error {
	codes, err := json.Marshal(nonNilCodes(a.FailReasonCodes))
	if err != nil {
		return fmt.Errorf("storage: marshal codes: %w", err)
	}
	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return fmt.Errorf("storage: marshal metrics: %w", err)
	}
	actionID := ""
	if a.Remediation != nil {
		actionID = a.Remediation.ActionID
	}

	err = WithRetry(ctx, retryAttempts, retryDelay, func() error {
		tx, err := db.sql.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, db.rebind(
			`INSERT INTO attempts (run_id, attempt_index, gate_passed, fail_reason_codes, action_id,
			 config_digest, metrics, tool_calls, started_at, ended_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
			runID.String(), a.AttemptIndex, a.GatePassed, string(codes), actionID,
			configDigest, string(metrics), a.ToolCalls, a.StartedAt.UTC(), a.EndedAt.UTC(),
		); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			db.rebind(`UPDATE runs SET attempts = $1 WHERE id = $2`),
			a.AttemptIndex, runID.String(),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("storage: record attempt %d: %w", a.AttemptIndex, err)
	}
	return nil
}

// FinishRun records the run's terminal state.
func (db *DB) FinishRun(ctx context.Context, id uuid.UUID, c Completion) error {
	res, err := db.sql.ExecContext(ctx, db.rebind(
		`UPDATE runs SET status = $1, stop_reason = $2, bundle_dir = $3, bundle_root = $4, finished_at = $5
		 WHERE id = $6`),
		string(c.Status), c.StopReason, c.BundleDir, c.BundleRoot, c.FinishedAt.UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: finish run: %w", err)
	}
	return expectOne(res, id)
}

// SetArchiveURI records where a run's bundle was archived.
func (db *DB) SetArchiveURI(ctx context.Context, id uuid.UUID, uri string) error {
	res, err := db.sql.ExecContext(ctx,
		db.rebind(`UPDATE runs SET archive_uri = $1 WHERE id = $2`), uri, id.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: set archive uri: %w", err)
	}
	return expectOne(res, id)
}

const runColumns = `id, query, status, stop_reason, attempts, bundle_dir, bundle_root, archive_uri, started_at, finished_at`

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	row := db.sql.QueryRowContext(ctx,
		db.rebind(`SELECT `+runColumns+` FROM runs WHERE id = $1`), id.String(),
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recently started runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.sql.QueryContext(ctx,
		db.rebind(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT $1`), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListAttempts returns a run's attempts in index order.
func (db *DB) ListAttempts(ctx context.Context, runID uuid.UUID) ([]AttemptRow, error) {
	rows, err := db.sql.QueryContext(ctx, db.rebind(
		`SELECT attempt_index, gate_passed, fail_reason_codes, action_id, config_digest, metrics,
		        tool_calls, started_at, ended_at
		 FROM attempts WHERE run_id = $1 ORDER BY attempt_index`), runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list attempts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []AttemptRow
	for rows.Next() {
		var (
			a       = AttemptRow{RunID: runID}
			codes   string
			metrics string
		)
		if err := rows.Scan(&a.AttemptIndex, &a.GatePassed, &codes, &a.ActionID, &a.ConfigDigest,
			&metrics, &a.ToolCalls, &a.StartedAt, &a.EndedAt); err != nil {
			return nil, fmt.Errorf("storage: scan attempt: %w", err)
		}
		if err := json.Unmarshal([]byte(codes), &a.FailReasonCodes); err != nil {
			return nil, fmt.Errorf("storage: decode codes: %w", err)
		}
		if err := json.Unmarshal([]byte(metrics), &a.Metrics); err != nil {
			return nil, fmt.Errorf("storage: decode metrics: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		id       string
		finished sql.NullTime
	)
	if err := s.Scan(&id, &r.Query, &r.Status, &r.StopReason, &r.Attempts, &r.BundleDir,
		&r.BundleRoot, &r.ArchiveURI, &r.StartedAt, &finished); err != nil {
		return Run{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Run{}, fmt.Errorf("storage: parse run id %q: %w", id, err)
	}
	r.ID = parsed
	r.StartedAt = r.StartedAt.UTC()
	if finished.Valid {
		t := finished.Time.UTC()
		r.FinishedAt = &t
	}
	return r, nil
}

func expectOne(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
	}
	return nil
}

func nonNilCodes(c []model.FailReasonCode) []model.FailReasonCode {
	if c == nil {
		return []model.FailReasonCode{}
	}
	return c
}
