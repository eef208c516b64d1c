package runlock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}
	ctx := context.Background()
	r, err := NewRedisLocker(ctx, startRedis(t), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	defer func() { _ = r.Close() }()

	run := uuid.New()
	lease, err := r.Acquire(ctx, run)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := r.Acquire(ctx, run); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire: got %v, want ErrLocked", err)
	}

	// A foreign token must not release the lock.
	foreign := &redisLease{client: r.client, key: lockKey(run), token: "not-ours"}
	if err := foreign.Release(ctx); err != nil {
		t.Fatalf("foreign Release: %v", err)
	}
	if _, err := r.Acquire(ctx, run); !errors.Is(err, ErrLocked) {
		t.Fatalf("foreign release freed the lock: got %v", err)
	}

	if err := lease.Extend(ctx); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if err := foreign.Extend(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("foreign Extend: got %v, want ErrLeaseLost", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lease.Extend(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("Extend after release: got %v, want ErrLeaseLost", err)
	}
	if _, err := r.Acquire(ctx, run); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestNewRedisLockerBadURL(t *testing.T) {
	if _, err := NewRedisLocker(context.Background(), "not a url", time.Minute); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestLockKey(t *testing.T) {
	id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	if got := lockKey(id); got != "shirabe:runlock:7d444840-9dc0-11d1-b245-5ffdce74fad2" {
		t.Fatalf("lockKey = %q", got)
	}
}
