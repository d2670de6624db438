package telemetry

import (
	"context"
	"testing"
)

func TestInit_NoEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "balkansim", "run-1", true)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown returned %v", err)
	}
}

func TestInit_WithEndpoint(t *testing.T) {
	// The exporter connects lazily, so an unreachable collector is not an error here.
	shutdown, err := Init(context.Background(), "127.0.0.1:4318", "balkansim", "run-1", true)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
