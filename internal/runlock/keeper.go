package runlock

import (
	"context"
	"sync"
	"time"
)

// Keeper renews a lease in the background for as long as its holder runs,
// so a run longer than the TTL keeps its lock. The first failed renewal is
// remembered and reported by Check; the holder stops work at its next
// checkpoint.
type Keeper struct {
	lease Lease

	mu   sync.Mutex
	lost error

	stopOnce sync.Once
	done     chan struct{}
	exited   chan struct{}
}

// Keep starts renewing lease every interval. A non-positive interval means
// a third of the lease's TTL. Call Stop before releasing the lease.
func Keep(ctx context.Context, lease Lease, interval time.Duration) *Keeper {
	if interval <= 0 {
		interval = lease.TTL() / 3
	}
	if interval <= 0 {
		interval = time.Second
	}
	k := &Keeper{
		lease:  lease,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go k.run(ctx, interval)
	return k
}

func (k *Keeper) run(ctx context.Context, interval time.Duration) {
	defer close(k.exited)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.extend(ctx); err != nil {
				return
			}
		}
	}
}

func (k *Keeper) extend(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.lost != nil {
		return k.lost
	}
	if err := k.lease.Extend(ctx); err != nil {
		k.lost = err
		return err
	}
	return nil
}

// Check renews the lease now and returns the first renewal failure, if any.
func (k *Keeper) Check(ctx context.Context) error {
	return k.extend(ctx)
}

// Stop ends background renewal and waits for it. Safe to call more than once.
func (k *Keeper) Stop() {
	k.stopOnce.Do(func() { close(k.done) })
	<-k.exited
}
