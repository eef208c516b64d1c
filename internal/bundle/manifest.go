package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shirabe/internal/integrity"
	"github.com/ashita-ai/shirabe/internal/model"
)

var (
	// ErrManifestFinalized is returned when a bundle's manifest already
	// exists. A manifest is written exactly once.
	ErrManifestFinalized = errors.New("bundle: manifest already finalized")

	// ErrManifestMismatch is returned when bundle files no longer match the
	// digests recorded in the manifest.
	ErrManifestMismatch = errors.New("bundle: manifest mismatch")

	// ErrInconsistent is returned when result.json and eval_summary.json
	// disagree about the run's outcome.
	ErrInconsistent = errors.New("bundle: inconsistent outcome")
)

// Manifest seals a complete bundle: per-file digests plus their Merkle root.
type Manifest struct {
	RunID       uuid.UUID         `json:"run_id"`
	Status      model.RunStatus   `json:"status"`
	Files       map[string]string `json:"files"`
	Root        string            `json:"root"`
	FinalizedAt time.Time         `json:"finalized_at"`
}

func digestFiles(dir string) (map[string]string, error) {
	files := make(map[string]string, len(RequiredFiles))
	for _, name := range RequiredFiles {
		data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // name is one of the contract files
		if err != nil {
			return nil, fmt.Errorf("bundle: read %s: %w", name, err)
		}
		files[name] = integrity.FileHash(name, data)
	}
	return files, nil
}

// Finalize is the single validation pass at run termination: it checks the
// file contract and the status rules, then writes manifest.json. It fails
// with a *ContractError when required files are missing, ErrInconsistent
// when result and evaluation disagree, and ErrManifestFinalized when the
// bundle was already finalized. Nothing is written on failure.
func Finalize(dir string, runID uuid.UUID, status model.RunStatus, now time.Time) (Manifest, error) {
	if err := Check(dir); err != nil {
		return Manifest{}, err
	}
	if err := CheckConsistency(dir); err != nil {
		return Manifest{}, err
	}
	if _, err := os.Stat(filepath.Join(dir, FileManifest)); err == nil {
		return Manifest{}, ErrManifestFinalized
	}
	files, err := digestFiles(dir)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{
		RunID:       runID,
		Status:      status,
		Files:       files,
		Root:        integrity.BundleRoot(files),
		FinalizedAt: now.UTC(),
	}
	data, err := marshalJSON(m)
	if err != nil {
		return Manifest{}, fmt.Errorf("bundle: marshal manifest: %w", err)
	}
	if err := createOnce(filepath.Join(dir, FileManifest), data); err != nil {
		if errors.Is(err, ErrManifestFinalized) {
			return Manifest{}, err
		}
		return Manifest{}, fmt.Errorf("bundle: write manifest: %w", err)
	}
	return m, nil
}

// ReadManifest loads dir's manifest.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	if err := ReadJSON(dir, FileManifest, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// VerifyManifest recomputes every file digest and the root and compares them
// with the manifest. Mismatches wrap ErrManifestMismatch and name the files.
func VerifyManifest(dir string) error {
	m, err := ReadManifest(dir)
	if err != nil {
		return err
	}
	if err := Check(dir); err != nil {
		return err
	}
	var bad []string
	for _, name := range RequiredFiles {
		data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // name is one of the contract files
		if err != nil {
			return fmt.Errorf("bundle: read %s: %w", name, err)
		}
		if !integrity.VerifyFileHash(m.Files[name], name, data) {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("%w: %v", ErrManifestMismatch, bad)
	}
	if integrity.BundleRoot(m.Files) != m.Root {
		return fmt.Errorf("%w: root", ErrManifestMismatch)
	}
	return nil
}

// CheckConsistency enforces the status rules across result.json and
// eval_summary.json: gate_passed iff status is success, the eval status
// mirrors gate_passed, and a failed gate carries at least one fail reason.
func CheckConsistency(dir string) error {
	var result model.ResultRecord
	if err := ReadJSON(dir, FileResult, &result); err != nil {
		return err
	}
	var eval model.EvalSummary
	if err := ReadJSON(dir, FileEvalSummary, &eval); err != nil {
		return err
	}

	var problems []string
	if !result.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown result status %q", result.Status))
	}
	if result.RunID != eval.RunID {
		problems = append(problems, "result and eval_summary run ids differ")
	}
	if eval.GatePassed != (result.Status == model.RunStatusSuccess) {
		problems = append(problems, fmt.Sprintf("gate_passed=%t with status %s", eval.GatePassed, result.Status))
	}
	wantGate := model.GateStatusFail
	if eval.GatePassed {
		wantGate = model.GateStatusPass
	}
	if eval.Status != wantGate {
		problems = append(problems, fmt.Sprintf("eval status %s with gate_passed=%t", eval.Status, eval.GatePassed))
	}
	if !eval.GatePassed && len(eval.FailReasons) == 0 {
		problems = append(problems, "failed gate without fail_reasons in eval_summary")
	}
	if result.Status != model.RunStatusSuccess && len(result.FailReasons) == 0 {
		problems = append(problems, "non-success result without fail_reasons")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInconsistent, problems)
	}
	return nil
}
