package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"` // tool, run, security
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // run id
	Action    string                 `json:"action"`          // e.g., "execute:bash", "run:completed"
	Status    string                 `json:"status"`          // "success", "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLog writes one JSON line per event
type AuditLog struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewAuditLog writes events to w
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// OpenAuditLog appends events to the file at path
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	a := NewAuditLog(file)
	a.file = file
	return a, nil
}

// Record emits an audit event and mirrors it as an event on the active span
func (a *AuditLog) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		if event.TraceID == "" {
			event.TraceID = span.SpanContext().TraceID().String()
		}
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit log's file handle
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// RecordTool records one tool dispatch
func (a *AuditLog) RecordTool(ctx context.Context, toolName, actor string, success bool, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     "tool",
		Actor:    actor,
		Action:   "execute:" + toolName,
		Status:   auditStatus(success),
		Metadata: metadata,
	})
}

// RecordRun records the end of a loop run
func (a *AuditLog) RecordRun(ctx context.Context, actor, outcome string, success bool, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     "run",
		Actor:    actor,
		Action:   "run:" + outcome,
		Status:   auditStatus(success),
		Metadata: metadata,
	})
}

func auditStatus(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
