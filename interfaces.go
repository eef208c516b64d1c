package shirabe

import (
	"context"

	"github.com/google/uuid"
)

// Archiver copies a finalized bundle somewhere durable and returns its URI.
// When provided via WithArchiver, replaces the MinIO archiver configured from
// SHIRABE_ARCHIVE_ENABLED. Archive is called once per run, after the
// manifest is written; a failure is reported as a system error but does not
// change the run's status.
type Archiver interface {
	Archive(ctx context.Context, runID uuid.UUID, dir string) (string, error)
}
