package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harun/minicode/pkg/agent"
	"github.com/harun/minicode/pkg/subagent"
	"github.com/harun/minicode/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
)

func TestPrinter(t *testing.T) {
	t.Run("should print main text and tool activity", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := newPrinter(out, false)

		p.Event(agent.Event{Type: agent.EventText, Role: toolexecutor.RoleMain, Text: "Looking around"})
		p.Event(agent.Event{Type: agent.EventToolCall, Role: toolexecutor.RoleMain, ToolName: "bash"})
		p.Event(agent.Event{Type: agent.EventToolResult, Role: toolexecutor.RoleMain, ToolName: "bash", Output: "ok"})
		p.Event(agent.Event{Type: agent.EventFinal, Role: toolexecutor.RoleMain, Text: "Looking around"})

		assert.Equal(t, "Looking around\n> bash\n  ok\n", out.String())
	})

	t.Run("should shorten long output", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := newPrinter(out, false)

		p.Event(agent.Event{Type: agent.EventToolResult, Role: toolexecutor.RoleMain, ToolName: "read_file", Output: strings.Repeat("a", 500)})
		assert.Equal(t, "  "+strings.Repeat("a", previewLimit)+"...\n", out.String())
	})

	t.Run("should print errors in full form", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := newPrinter(out, false)

		p.Event(agent.Event{Type: agent.EventToolResult, Role: toolexecutor.RoleMain, ToolName: "bash", Output: "Error: Dangerous command blocked", IsError: true})
		p.Error(errors.New("run failed"))
		assert.Equal(t, "Error: Dangerous command blocked\nError: run failed\n", out.String())
	})

	t.Run("should tag subagent activity with its label", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := newPrinter(out, false)

		rec := subagent.RunRecord{RunID: "child", Role: "explore", Label: "scan repo", Status: subagent.StatusPending}
		p.Subagent(rec)
		p.Event(agent.Event{Type: agent.EventText, Role: toolexecutor.RoleExplore, RunID: "child", Text: "thinking"})
		p.Event(agent.Event{Type: agent.EventToolCall, Role: toolexecutor.RoleExplore, RunID: "child", ToolName: "read_file"})
		p.Event(agent.Event{Type: agent.EventToolResult, Role: toolexecutor.RoleExplore, RunID: "child", ToolName: "read_file", Output: "line one\nline two"})

		started := time.Now().UnixMilli()
		done := started + 1500
		rec.Status = subagent.StatusCompleted
		rec.Rounds = 2
		rec.StartedAt = started
		rec.CompletedAt = &done
		p.Subagent(rec)
		p.Event(agent.Event{Type: agent.EventToolResult, Role: toolexecutor.RoleMain, ToolName: subagent.ToolName, Output: "summary"})

		assert.Equal(t, strings.Join([]string{
			"[explore: scan repo] started",
			"  [scan repo] > read_file",
			"  [scan repo] line one",
			"[explore: scan repo] completed in 2 rounds (1.5s)",
			"",
		}, "\n"), out.String())
	})

	t.Run("should fall back to the role without a record", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := newPrinter(out, false)

		p.Event(agent.Event{Type: agent.EventToolCall, Role: toolexecutor.RolePlan, RunID: "unknown", ToolName: "bash"})
		assert.Equal(t, "  [plan] > bash\n", out.String())
	})
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))

	// a multi-byte rune straddling the limit is not split
	s := strings.Repeat("a", previewLimit-1) + "é" + "tail"
	assert.Equal(t, strings.Repeat("a", previewLimit-1)+"...", preview(s))
}
