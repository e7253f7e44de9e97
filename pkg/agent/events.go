package agent

import (
	"time"

	"github.com/harun/minicode/pkg/toolexecutor"
)

// EventType identifies a loop progress event
type EventType string

const (
	EventRound      EventType = "round"
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventTruncated  EventType = "truncated"
	EventFinal      EventType = "final"
)

// Event reports loop progress. Events of one run are delivered sequentially
// from the goroutine that called Run.
type Event struct {
	Type  EventType
	Role  toolexecutor.Role
	RunID string
	Round int

	// Text is the model text for text and final events, or the truncation
	// kind for truncated events.
	Text string

	ToolName   string
	ToolCallID string
	Arguments  map[string]interface{}
	Output     string
	IsError    bool
	Duration   time.Duration
}
