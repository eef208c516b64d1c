package runlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func closeLocker(t *testing.T, m *MemoryLocker) {
	t.Helper()
	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func TestMemoryLockerExclusive(t *testing.T) {
	m := NewMemoryLocker(time.Minute)
	defer closeLocker(t, m)

	ctx := context.Background()
	run := uuid.New()

	lease, err := m.Acquire(ctx, run)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, run); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire: got %v, want ErrLocked", err)
	}
	if _, err := m.Acquire(ctx, uuid.New()); err != nil {
		t.Fatalf("other run should be independent: %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("second Release should be a no-op: %v", err)
	}
	if _, err := m.Acquire(ctx, run); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	m := NewMemoryLocker(time.Minute)
	defer closeLocker(t, m)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	run := uuid.New()
	stale, err := m.Acquire(ctx, run)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	now = now.Add(2 * time.Minute)
	fresh, err := m.Acquire(ctx, run)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}

	// The expired lease must not release the new holder's lock.
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	if _, err := m.Acquire(ctx, run); !errors.Is(err, ErrLocked) {
		t.Fatalf("stale release freed the lock: got %v", err)
	}
	if err := fresh.Release(ctx); err != nil {
		t.Fatalf("fresh Release: %v", err)
	}
}

func TestMemoryLockerEvictExpired(t *testing.T) {
	m := NewMemoryLocker(time.Minute)
	defer closeLocker(t, m)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	if _, err := m.Acquire(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	now = now.Add(time.Hour)
	m.evictExpired()

	m.mu.Lock()
	n := len(m.locks)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected expired lock to be evicted, %d remain", n)
	}
}

func TestMemoryLockerConcurrentAcquire(t *testing.T) {
	m := NewMemoryLocker(time.Minute)
	defer closeLocker(t, m)

	run := uuid.New()
	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire(context.Background(), run); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := won.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestMemoryLockerDefaultTTL(t *testing.T) {
	m := NewMemoryLocker(0)
	defer closeLocker(t, m)
	if m.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", m.ttl, DefaultTTL)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestMemoryLeaseExtend(t *testing.T) {
	m := NewMemoryLocker(time.Minute)
	defer closeLocker(t, m)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	run := uuid.New()
	lease, err := m.Acquire(ctx, run)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.TTL() != time.Minute {
		t.Fatalf("TTL = %v, want 1m", lease.TTL())
	}

	// Renewed every 45s, the lease outlives its original one-minute TTL.
	for range 4 {
		now = now.Add(45 * time.Second)
		if err := lease.Extend(ctx); err != nil {
			t.Fatalf("Extend: %v", err)
		}
	}
	if _, err := m.Acquire(ctx, run); !errors.Is(err, ErrLocked) {
		t.Fatalf("extended lease was taken over: got %v", err)
	}

	// Once it expires and someone else takes the run, Extend reports the loss.
	now = now.Add(2 * time.Minute)
	other, err := m.Acquire(ctx, run)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	if err := lease.Extend(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("Extend after takeover: got %v, want ErrLeaseLost", err)
	}
	if err := other.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

// flakyLease fails every Extend after the first ok ones.
type flakyLease struct {
	mu      sync.Mutex
	ok      int
	extends int
}

func (l *flakyLease) Release(context.Context) error { return nil }
func (l *flakyLease) TTL() time.Duration            { return 30 * time.Millisecond }

func (l *flakyLease) Extend(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	if l.extends > l.ok {
		return ErrLeaseLost
	}
	return nil
}

func (l *flakyLease) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends
}

func TestKeeperRenewsInBackground(t *testing.T) {
	lease := &flakyLease{ok: 1000}
	k := Keep(context.Background(), lease, 0)

	deadline := time.Now().Add(2 * time.Second)
	for lease.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	k.Stop()
	k.Stop()

	if got := lease.count(); got < 3 {
		t.Fatalf("expected background renewals, got %d", got)
	}
	if err := k.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestKeeperRemembersLoss(t *testing.T) {
	lease := &flakyLease{ok: 1}
	k := Keep(context.Background(), lease, time.Hour)
	defer k.Stop()

	ctx := context.Background()
	if err := k.Check(ctx); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if err := k.Check(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("second Check: got %v, want ErrLeaseLost", err)
	}
	before := lease.count()
	if err := k.Check(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("third Check: got %v, want ErrLeaseLost", err)
	}
	if lease.count() != before {
		t.Fatal("a lost lease must not be extended again")
	}
}
