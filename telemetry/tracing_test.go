package telemetry

import (
	"context"
	"testing"
)

func TestStartWorkflowSpanNoPanic(t *testing.T) {
	ctx, span := StartWorkflowSpan(context.Background(), "bafy-test")
	defer span.End()
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
}

func TestStartTaskSpanNoPanic(t *testing.T) {
	ctx, span := StartTaskSpan(context.Background(), "bafy-task", "wasm/run")
	defer span.End()
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
}

func TestInFlightGauge(t *testing.T) {
	g, err := NewInFlightGauge(func() int64 { return 3 })
	if err != nil {
		t.Fatalf("NewInFlightGauge() error = %v", err)
	}
	if g == nil {
		t.Fatal("expected non-nil gauge")
	}
}
