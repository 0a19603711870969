package telemetry

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromReturnsNopWhenUnset(t *testing.T) {
	logger := From(context.Background())
	if logger == nil {
		t.Fatal("From returned nil")
	}
	// A nop logger must not panic on use.
	logger.Info("noop")
}

func TestWithLoggerRoundTrips(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	ctx := WithLogger(context.Background(), logger)

	StatementExecuted(ctx, "sess-1", 2, 15, []string{"E6"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if entries[0].Message != "statement executed" {
		t.Errorf("message = %q", entries[0].Message)
	}
}

func TestSessionCompletedLogsPassedFlag(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	ctx := WithLogger(context.Background(), logger)

	SessionCompleted(ctx, "sess-2", false, 4)

	entries := logs.All()
	if len(entries) != 1 || entries[0].Message != "session completed" {
		t.Fatalf("got %+v", entries)
	}
	ctxMap := entries[0].ContextMap()
	if ctxMap["passed"] != false {
		t.Errorf("passed = %v, want false", ctxMap["passed"])
	}
}
