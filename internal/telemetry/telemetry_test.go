package telemetry

import (
	"context"
	"testing"
)

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "shirabe", "test", true)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Global no-op providers still hand out usable instruments.
	ctx, span := Tracer("shirabe/test").Start(context.Background(), "shirabe.run")
	span.End()
	counter, err := Meter("shirabe/test").Int64Counter("shirabe.test.count")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	counter.Add(ctx, 1)
}
