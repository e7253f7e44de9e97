package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubAgent derives the context of a nested run.
// The trace ID is kept, the current run becomes the parent and a new run ID is minted.
func PropagateToSubAgent(ctx context.Context, role string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	child := WithTraceID(ctx, traceID)
	if parent := GetRunID(ctx); parent != "" {
		child = WithParentRunID(child, parent)
	}
	child = WithRunID(child, NewRunID())
	return WithRole(child, role)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.ParentRunID != "" {
		lc = lc.Str("parent_run_id", tc.ParentRunID)
	}
	if tc.Role != "" {
		lc = lc.Str("role", tc.Role)
	}
	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
