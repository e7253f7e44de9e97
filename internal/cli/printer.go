package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/harun/minicode/pkg/agent"
	"github.com/harun/minicode/pkg/skills"
	"github.com/harun/minicode/pkg/subagent"
	"github.com/harun/minicode/pkg/todo"
	"github.com/harun/minicode/pkg/toolexecutor"
)

const previewLimit = 300

// printer renders loop events as terminal lines. Nested runs may report
// from several goroutines at once.
type printer struct {
	out io.Writer

	tool    *color.Color
	failure *color.Color
	agent   *color.Color
	success *color.Color
	muted   *color.Color

	mu sync.Mutex
	// labels maps a subagent's run id to its display label
	labels map[string]string
}

func newPrinter(out io.Writer, useColor bool) *printer {
	p := &printer{
		out:     out,
		tool:    color.New(color.FgYellow),
		failure: color.New(color.FgRed),
		agent:   color.New(color.FgMagenta),
		success: color.New(color.FgGreen),
		muted:   color.New(color.FgHiBlack),
		labels:  make(map[string]string),
	}
	for _, c := range []*color.Color{p.tool, p.failure, p.agent, p.success, p.muted} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Event prints one loop event
func (p *printer) Event(ev agent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nested := ev.Role != toolexecutor.RoleMain
	indent := ""
	if nested {
		indent = "  " + p.agent.Sprintf("[%s]", p.label(ev)) + " "
	}

	switch ev.Type {
	case agent.EventText:
		// subagent prose is folded into its summary
		if !nested {
			fmt.Fprintln(p.out, ev.Text)
		}

	case agent.EventToolCall:
		fmt.Fprintf(p.out, "%s%s %s\n", indent, p.tool.Sprint(">"), p.tool.Sprint(ev.ToolName))

	case agent.EventToolResult:
		p.toolResult(indent, nested, ev)

	case agent.EventTruncated:
		fmt.Fprintf(p.out, "%s%s\n", indent, p.muted.Sprintf("(response truncated: %s)", ev.Text))
	}
}

func (p *printer) toolResult(indent string, nested bool, ev agent.Event) {
	switch {
	case ev.IsError:
		fmt.Fprintf(p.out, "%s%s\n", indent, p.failure.Sprint(preview(ev.Output)))
	case ev.ToolName == subagent.ToolName:
		// the run record line already reported the outcome
	case ev.ToolName == todo.ToolName:
		fmt.Fprintf(p.out, "%s%s\n", indent, p.success.Sprint(ev.Output))
	case ev.ToolName == skills.ToolName:
		first, _, _ := strings.Cut(ev.Output, "\n")
		fmt.Fprintf(p.out, "%s%s %s\n", indent, p.success.Sprint("Skill loaded:"), p.muted.Sprint(first))
	case nested:
		// keep nested output to one line
		first, _, _ := strings.Cut(preview(ev.Output), "\n")
		fmt.Fprintf(p.out, "%s%s\n", indent, p.muted.Sprint(first))
	default:
		fmt.Fprintf(p.out, "  %s\n", p.muted.Sprint(preview(ev.Output)))
	}
}

// Subagent prints run record changes
func (p *printer) Subagent(rec subagent.RunRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	label := rec.Label
	if label == "" {
		label = rec.Role
	}
	p.labels[rec.RunID] = label

	tag := p.agent.Sprintf("[%s: %s]", rec.Role, label)
	switch rec.Status {
	case subagent.StatusPending:
		fmt.Fprintf(p.out, "%s %s\n", tag, p.muted.Sprint("started"))
	case subagent.StatusCompleted:
		fmt.Fprintf(p.out, "%s %s\n", tag, p.success.Sprintf("completed in %d rounds (%s)", rec.Rounds, rec.Duration().Round(100*time.Millisecond)))
		delete(p.labels, rec.RunID)
	case subagent.StatusFailed:
		fmt.Fprintf(p.out, "%s %s\n", tag, p.failure.Sprintf("failed: %s", rec.Error))
		delete(p.labels, rec.RunID)
	}
}

// Error prints a run failure
func (p *printer) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %v\n", p.failure.Sprint("Error:"), err)
}

func (p *printer) label(ev agent.Event) string {
	if label, ok := p.labels[ev.RunID]; ok {
		return label
	}
	return string(ev.Role)
}

// preview caps s at previewLimit bytes without splitting a rune
func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
