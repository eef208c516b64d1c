package runlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	token   uuid.UUID
	expires time.Time
}

// MemoryLocker implements Locker for a single process. Leases expire after
// the configured TTL so a holder that never releases cannot wedge a run
// forever. A background goroutine evicts expired entries every minute.
type MemoryLocker struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	locks map[string]entry

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLocker creates an in-process locker. A non-positive ttl means
// DefaultTTL. Call Close to stop the cleanup goroutine.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &MemoryLocker{
		ttl:   ttl,
		now:   time.Now,
		locks: make(map[string]entry),
		done:  make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Acquire takes the lock for runID if it is free or expired.
func (m *MemoryLocker) Acquire(_ context.Context, runID uuid.UUID) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey(runID)
	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expires) {
		return nil, ErrLocked
	}
	token := uuid.New()
	m.locks[key] = entry{token: token, expires: now.Add(m.ttl)}
	return &memoryLease{m: m, key: key, token: token}, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLocker) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLocker) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryLocker) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.locks {
		if !now.Before(e.expires) {
			delete(m.locks, key)
		}
	}
}

type memoryLease struct {
	m     *MemoryLocker
	key   string
	token uuid.UUID
}

// Extend renews the lease. An entry that expired but was not taken over is
// still ours.
func (l *memoryLease) Extend(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	e, ok := l.m.locks[l.key]
	if !ok || e.token != l.token {
		return ErrLeaseLost
	}
	e.expires = l.m.now().Add(l.m.ttl)
	l.m.locks[l.key] = e
	return nil
}

func (l *memoryLease) TTL() time.Duration { return l.m.ttl }

// Release drops the lock if this lease still owns it. A lease that expired
// and was re-acquired by someone else leaves the new holder alone.
func (l *memoryLease) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	if e, ok := l.m.locks[l.key]; ok && e.token == l.token {
		delete(l.m.locks, l.key)
	}
	return nil
}
