// Package bundle writes and validates the fixed artifact set every run
// produces. The set is the same whatever the outcome: a failed gate is
// recorded inside result.json and eval_summary.json, never by leaving files
// out.
package bundle

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashita-ai/shirabe/internal/model"
)

// Required bundle files.
const (
	FileInput       = "input.json"
	FileRunConfig   = "run_config.json"
	FileSources     = "sources.jsonl"
	FileClaims      = "claims.jsonl"
	FileEvidence    = "evidence.jsonl"
	FileScores      = "scores.jsonl"
	FileResult      = "result.json"
	FileEvalSummary = "eval_summary.json"
	FileWarnings    = "warnings.jsonl"
	FileReport      = "report.md"

	// FileManifest is written once, after the required set validates. It is
	// not itself part of the required set.
	FileManifest = "manifest.json"
)

// RequiredFiles is the fixed contract, in write order.
var RequiredFiles = []string{
	FileInput,
	FileRunConfig,
	FileSources,
	FileClaims,
	FileEvidence,
	FileScores,
	FileResult,
	FileEvalSummary,
	FileWarnings,
	FileReport,
}

// ContractError reports required files absent from a bundle directory. It is
// a system error, distinct from a quality-gate failure.
type ContractError struct {
	Dir     string
	Missing []string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("bundle: %s missing %d required file(s): %s", e.Dir, len(e.Missing), strings.Join(e.Missing, ", "))
}

// Contents is everything the writer persists for one run.
type Contents struct {
	Input    model.InputRecord
	Config   model.ConfigRecord
	Sources  []model.SourceDocument
	Claims   []model.Claim
	Evidence []model.Evidence
	Scores   []model.ScoreRecord
	Result   model.ResultRecord
	Eval     model.EvalSummary
	Warnings []model.Warning
}

// Writer persists bundle files into one run directory.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates dir if needed and returns a writer for it.
func NewWriter(logger *slog.Logger, dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("bundle: create directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// Dir returns the bundle directory.
func (w *Writer) Dir() string { return w.dir }

// WriteAll writes every required file. A failure on one file does not stop
// the others: as much of the bundle as possible reaches disk, and the
// joined error names every file that could not be written.
func (w *Writer) WriteAll(c Contents) error {
	writes := []struct {
		name string
		fn   func() ([]byte, error)
	}{
		{FileInput, func() ([]byte, error) { return marshalJSON(c.Input) }},
		{FileRunConfig, func() ([]byte, error) { return marshalJSON(c.Config) }},
		{FileSources, func() ([]byte, error) { return marshalJSONL(c.Sources) }},
		{FileClaims, func() ([]byte, error) { return marshalJSONL(c.Claims) }},
		{FileEvidence, func() ([]byte, error) { return marshalJSONL(c.Evidence) }},
		{FileScores, func() ([]byte, error) { return marshalJSONL(c.Scores) }},
		{FileResult, func() ([]byte, error) { return marshalJSON(c.Result) }},
		{FileEvalSummary, func() ([]byte, error) { return marshalJSON(c.Eval) }},
		{FileWarnings, func() ([]byte, error) { return marshalJSONL(c.Warnings) }},
		{FileReport, func() ([]byte, error) { return []byte(RenderReport(c)), nil }},
	}

	var errs []error
	for _, wr := range writes {
		data, err := wr.fn()
		if err == nil {
			err = writeAtomic(filepath.Join(w.dir, wr.name), data)
		}
		if err != nil {
			w.logger.Error("bundle: write failed", "dir", w.dir, "file", wr.name, "error", err)
			errs = append(errs, fmt.Errorf("bundle: write %s: %w", wr.name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate returns the required files absent from dir, in contract order.
// An empty result means the bundle is complete.
func Validate(dir string) ([]string, error) {
	var missing []string
	for _, name := range RequiredFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		switch {
		case errors.Is(err, os.ErrNotExist):
			missing = append(missing, name)
		case err != nil:
			return nil, fmt.Errorf("bundle: stat %s: %w", name, err)
		case info.IsDir():
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Check is Validate as an error: nil when complete, *ContractError when
// files are missing.
func Check(dir string) error {
	missing, err := Validate(dir)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &ContractError{Dir: dir, Missing: missing}
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ReadJSON decodes one JSON bundle file.
func ReadJSON(dir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // name is one of the contract files
	if err != nil {
		return fmt.Errorf("bundle: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bundle: parse %s: %w", name, err)
	}
	return nil
}

// ReadJSONL decodes a line-delimited bundle file. Blank lines are skipped.
func ReadJSONL[T any](dir, name string) ([]T, error) {
	f, err := os.Open(filepath.Join(dir, name)) //nolint:gosec // name is one of the contract files
	if err != nil {
		return nil, fmt.Errorf("bundle: open %s: %w", name, err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return nil, fmt.Errorf("bundle: parse %s line %d: %w", name, line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("bundle: scan %s: %w", name, err)
	}
	return out, nil
}
