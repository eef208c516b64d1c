// Package runlock guarantees that no two attempts for one run id execute
// concurrently.
//
// The CLI ships an in-process lock (MemoryLocker). Deployments that run
// several orchestrators against one ledger substitute the Redis-backed
// implementation; the Locker interface is the contract.
package runlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by Acquire when another holder owns the run.
var ErrLocked = errors.New("runlock: run is locked")

// ErrLeaseLost is returned by Extend when the lease expired and the run's
// lock is gone or held by someone else.
var ErrLeaseLost = errors.New("runlock: lease lost")

// DefaultTTL bounds how long a lock outlives a crashed holder.
const DefaultTTL = 15 * time.Minute

// Locker hands out exclusive leases per run id.
// Implementations must be safe for concurrent use.
type Locker interface {
	// Acquire returns a lease for runID, or ErrLocked if one is held.
	Acquire(ctx context.Context, runID uuid.UUID) (Lease, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error

	// Extend pushes the expiry a full TTL past now. It fails with
	// ErrLeaseLost when this lease no longer owns the run.
	Extend(ctx context.Context) error

	// TTL is how long the lease lives without an Extend.
	TTL() time.Duration
}

func lockKey(runID uuid.UUID) string {
	return "shirabe:runlock:" + runID.String()
}
