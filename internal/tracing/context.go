package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the id of one loop run (one conversation)
	RunIDKey ContextKey = "run_id"
	// ParentRunIDKey is the context key for the run that spawned the current one
	ParentRunIDKey ContextKey = "parent_run_id"
	// RoleKey is the context key for the agent role executing the run
	RoleKey ContextKey = "role"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID     string
	RunID       string
	ParentRunID string
	Role        string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithParentRunID adds the parent run ID to the context
func WithParentRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ParentRunIDKey, runID)
}

// WithRole adds the agent role to the context
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

func getString(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// GetParentRunID retrieves the parent run ID from the context
func GetParentRunID(ctx context.Context) string {
	return getString(ctx, ParentRunIDKey)
}

// GetRole retrieves the agent role from the context
func GetRole(ctx context.Context) string {
	return getString(ctx, RoleKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:     GetTraceID(ctx),
		RunID:       GetRunID(ctx),
		ParentRunID: GetParentRunID(ctx),
		Role:        GetRole(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.ParentRunID != "" {
		ctx = WithParentRunID(ctx, tc.ParentRunID)
	}
	if tc.Role != "" {
		ctx = WithRole(ctx, tc.Role)
	}
	return ctx
}

// EnsureRun returns ctx with a trace ID and run ID, minting whichever is missing.
func EnsureRun(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	if GetRunID(ctx) == "" {
		ctx = WithRunID(ctx, NewRunID())
	}
	return ctx
}
