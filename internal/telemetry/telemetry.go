// Package telemetry provides the structured logger threaded through a trace
// run via context.Context, never a package global, so that a
// caller embedding this module can swap loggers per invocation.
package telemetry

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// NewLogger builds the default production zap.Logger, writing structured
// JSON to stderr.
func NewLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// WithLogger returns a context carrying logger for retrieval by From.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger stored in ctx, or zap.NewNop() if none was set.
func From(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// StatementExecuted logs one statement's outcome within a trace session,
// matching the "statement executed" event shape.
func StatementExecuted(ctx context.Context, sessionID string, index int, durationMillis int64, triggerIDs []string) {
	From(ctx).Info("statement executed",
		zap.String("session_id", sessionID),
		zap.Int("index", index),
		zap.Int64("duration_ms", durationMillis),
		zap.Strings("trigger_ids", triggerIDs),
	)
}

// SessionCompleted logs the outcome of a whole trace session,
// matching the "session completed" event shape.
func SessionCompleted(ctx context.Context, sessionID string, passed bool, statementCount int) {
	From(ctx).Info("session completed",
		zap.String("session_id", sessionID),
		zap.Bool("passed", passed),
		zap.Int("statement_count", statementCount),
	)
}
