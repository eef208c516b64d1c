// Package journal is the per-run attempt journal: an append-only file of
// CRC-framed RunAttempt records written before the orchestrator moves on to
// the next attempt.
//
// File layout (history.wal):
//
//	header: magic(4) | version(2) | reserved(2) | runID(16)
//	record: index(8) | payloadLen(4) | payload(N) | CRC32C(4)
//
// The CRC covers the record head and payload. Reading stops at the first
// torn or corrupt record; everything before it is the recovered history.
// When the run terminates the journal is sealed: a checkpoint file records
// the last index and terminal status, written via temp file + fsync + rename.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shirabe/internal/model"
)

const (
	// FileName is the journal file inside a run directory.
	FileName = "history.wal"
	// CheckpointName is the seal file written when the run terminates.
	CheckpointName = "history.checkpoint.json"

	magic      = 0x53484A4C // "SHJL"
	version    = 1
	headerSize = 24 // magic(4) + version(2) + reserved(2) + runID(16)
	recordHead = 12 // index(8) + payloadLen(4)
	crcSize    = 4
	maxPayload = 4 << 20
)

// Sync modes.
const (
	SyncFull = "full"
	SyncNone = "none"
)

var (
	// ErrSealed is returned when appending to a journal whose run has
	// terminated.
	ErrSealed = errors.New("journal: sealed")
	// ErrRunMismatch is returned when an existing journal belongs to
	// another run.
	ErrRunMismatch = errors.New("journal: run id mismatch")
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Config configures a journal.
type Config struct {
	Dir   string
	RunID uuid.UUID
	// SyncMode is "full" (fsync every append) or "none". Default: "full".
	SyncMode string
}

// Checkpoint is the seal written when a run terminates.
type Checkpoint struct {
	RunID      uuid.UUID       `json:"run_id"`
	LastIndex  int             `json:"last_index"`
	Status     model.RunStatus `json:"status"`
	StopReason string          `json:"stop_reason,omitempty"`
	SealedAt   time.Time       `json:"sealed_at"`
}

// Journal appends attempts for one run.
type Journal struct {
	dir      string
	runID    uuid.UUID
	syncMode string
	logger   *slog.Logger

	mu     sync.Mutex
	f      *os.File
	next   int
	sealed bool
}

// Open opens or creates the journal in cfg.Dir. An existing journal is
// recovered first: a torn tail is truncated so new records follow the last
// valid one.
func Open(logger *slog.Logger, cfg Config) (*Journal, error) {
	if cfg.Dir == "" {
		return nil, errors.New("journal: dir is required")
	}
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncFull
	}
	switch cfg.SyncMode {
	case SyncFull, SyncNone:
	default:
		return nil, fmt.Errorf("journal: invalid sync mode %q (must be full or none)", cfg.SyncMode)
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	j := &Journal{
		dir:      cfg.Dir,
		runID:    cfg.RunID,
		syncMode: cfg.SyncMode,
		logger:   logger,
		next:     1,
	}

	path := filepath.Join(cfg.Dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // path is constructed from cfg.Dir
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: stat: %w", err)
	}
	if info.Size() == 0 {
		if err := writeHeader(f, cfg.RunID); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else {
		runID, attempts, end, err := scan(f, logger)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if runID != cfg.RunID {
			_ = f.Close()
			return nil, fmt.Errorf("%w: file has %s, want %s", ErrRunMismatch, runID, cfg.RunID)
		}
		if end < info.Size() {
			logger.Warn("journal: truncating torn tail", "path", path, "valid_bytes", end, "size", info.Size())
			if err := f.Truncate(end); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("journal: truncate: %w", err)
			}
		}
		j.next = len(attempts) + 1
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: seek: %w", err)
	}
	j.f = f

	if _, err := ReadCheckpoint(cfg.Dir); err == nil {
		j.sealed = true
	}
	return j, nil
}

// Append writes one attempt. Indices must continue the journal without gaps.
func (j *Journal) Append(a model.RunAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sealed {
		return ErrSealed
	}
	if a.AttemptIndex != j.next {
		return fmt.Errorf("journal: attempt index %d out of order (want %d)", a.AttemptIndex, j.next)
	}
	payload, err := json.Marshal(&a)
	if err != nil {
		return fmt.Errorf("journal: marshal attempt: %w", err)
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("journal: attempt payload too large (%d bytes, max %d)", len(payload), maxPayload)
	}

	buf := make([]byte, recordHead+len(payload)+crcSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(a.AttemptIndex)) //nolint:gosec // index is positive
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))  //nolint:gosec // bounded by maxPayload
	copy(buf[recordHead:], payload)
	crc := crc32.Checksum(buf[:recordHead+len(payload)], crc32cTable)
	binary.BigEndian.PutUint32(buf[recordHead+len(payload):], crc)

	// One write per record keeps a crash from interleaving partial heads.
	if _, err := j.f.Write(buf); err != nil {
		return fmt.Errorf("journal: write record: %w", err)
	}
	if j.syncMode == SyncFull {
		if err := j.f.Sync(); err != nil {
			return fmt.Errorf("journal: fsync: %w", err)
		}
	}
	j.next++
	return nil
}

// Len returns the number of attempts in the journal.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next - 1
}

// Seal records the run's terminal status. Appends after Seal fail.
func (j *Journal) Seal(status model.RunStatus, stopReason string, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sealed {
		return ErrSealed
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("journal: fsync before seal: %w", err)
	}
	cp := Checkpoint{
		RunID:      j.runID,
		LastIndex:  j.next - 1,
		Status:     status,
		StopReason: stopReason,
		SealedAt:   now.UTC(),
	}
	if err := saveCheckpoint(j.dir, cp); err != nil {
		return err
	}
	j.sealed = true
	return nil
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		return nil
	}
	if err := j.f.Sync(); err != nil {
		j.logger.Warn("journal: final sync failed", "error", err)
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Recover reads the valid prefix of the journal in dir.
func Recover(logger *slog.Logger, dir string) (uuid.UUID, []model.RunAttempt, error) {
	f, err := os.Open(filepath.Join(dir, FileName)) //nolint:gosec // path is constructed from dir
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file; close error is non-actionable

	runID, attempts, _, err := scan(f, logger)
	return runID, attempts, err
}

// ReadCheckpoint returns the seal written by Seal. It returns an error
// wrapping os.ErrNotExist when the run has not terminated.
func ReadCheckpoint(dir string) (Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(dir, CheckpointName)) //nolint:gosec // path is constructed from dir
	if err != nil {
		return Checkpoint{}, fmt.Errorf("journal: read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("journal: parse checkpoint: %w", err)
	}
	return cp, nil
}

func writeHeader(f *os.File, runID uuid.UUID) error {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	binary.BigEndian.PutUint16(hdr[4:6], version)
	copy(hdr[8:24], runID[:])
	if _, err := f.Write(hdr[:]); err != nil {
		return fmt.Errorf("journal: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("journal: sync header: %w", err)
	}
	return nil
}

// scan reads the header and every valid record from the start of f. end is
// the byte offset just past the last valid record.
func scan(f *os.File, logger *slog.Logger) (runID uuid.UUID, attempts []model.RunAttempt, end int64, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return uuid.Nil, nil, 0, fmt.Errorf("journal: seek: %w", err)
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return uuid.Nil, nil, 0, fmt.Errorf("journal: read header: %w", err)
	}
	if m := binary.BigEndian.Uint32(hdr[0:4]); m != magic {
		return uuid.Nil, nil, 0, fmt.Errorf("journal: bad magic 0x%08X (expected 0x%08X)", m, magic)
	}
	if v := binary.BigEndian.Uint16(hdr[4:6]); v != version {
		return uuid.Nil, nil, 0, fmt.Errorf("journal: unsupported version %d", v)
	}
	copy(runID[:], hdr[8:24])
	end = headerSize

	for {
		var head [recordHead]byte
		if _, err := io.ReadFull(f, head[:]); err != nil {
			break // end of file or torn head
		}
		index := binary.BigEndian.Uint64(head[0:8])
		payloadLen := binary.BigEndian.Uint32(head[8:12])
		if payloadLen > maxPayload {
			logger.Warn("journal: corrupted payload length, stopping read", "index", index, "payload_len", payloadLen)
			break
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			break
		}
		var crcBuf [crcSize]byte
		if _, err := io.ReadFull(f, crcBuf[:]); err != nil {
			break
		}

		h := crc32.New(crc32cTable)
		_, _ = h.Write(head[:])
		_, _ = h.Write(payload)
		if expected, actual := h.Sum32(), binary.BigEndian.Uint32(crcBuf[:]); expected != actual {
			logger.Warn("journal: CRC mismatch, stopping read", "index", index, "expected_crc", expected, "actual_crc", actual)
			break
		}

		var a model.RunAttempt
		if err := json.Unmarshal(payload, &a); err != nil {
			logger.Warn("journal: corrupted attempt JSON, stopping read", "index", index, "error", err)
			break
		}
		if uint64(a.AttemptIndex) != index || a.AttemptIndex != len(attempts)+1 { //nolint:gosec // index compared, not converted back
			logger.Warn("journal: attempt index out of sequence, stopping read", "index", index, "want", len(attempts)+1)
			break
		}
		attempts = append(attempts, a)
		end += int64(recordHead + len(payload) + crcSize)
	}
	return runID, attempts, end, nil
}

func saveCheckpoint(dir string, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal checkpoint: %w", err)
	}
	path := filepath.Join(dir, CheckpointName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path is constructed from dir
	if err != nil {
		return fmt.Errorf("journal: write checkpoint tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("journal: write checkpoint tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("journal: sync checkpoint tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: close checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("journal: rename checkpoint: %w", err)
	}
	return nil
}
