package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/minicode/internal/config"
	"github.com/harun/minicode/internal/logger"
	"github.com/harun/minicode/pkg/agent"
	"github.com/harun/minicode/pkg/agent/agenttest"
	"github.com/harun/minicode/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WorkspacePath = t.TempDir()
	cfg.SkillsDir = filepath.Join(cfg.WorkspacePath, "skills")
	cfg.Logging.Console = false
	cfg.Loop.MaxRetries = -1
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, provider agent.LLMProvider, mutate func(*appOptions)) *app {
	t.Helper()
	opts := appOptions{Config: cfg, Provider: provider, Logger: logger.Nop()}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := newApp(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewApp(t *testing.T) {
	t.Run("should register every tool for the main role", func(t *testing.T) {
		cfg := testConfig(t)
		a := newTestApp(t, cfg, agenttest.New(), nil)

		assert.True(t, a.registry.Sealed())
		assert.Equal(t, toolexecutor.RoleMain, a.loop.Role())
		assert.ElementsMatch(t,
			[]string{"bash", "read_file", "write_file", "edit_file", "TodoWrite", "Skill", "Task"},
			a.registry.View(toolexecutor.RoleMain).Names())
	})

	t.Run("should hide writes and spawning from explore agents", func(t *testing.T) {
		a := newTestApp(t, testConfig(t), agenttest.New(), nil)

		names := a.registry.View(toolexecutor.RoleExplore).Names()
		assert.ElementsMatch(t, []string{"bash", "read_file", "Skill"}, names)
		assert.NotContains(t, a.registry.View(toolexecutor.RoleCode).Names(), "Task")
	})

	t.Run("should build the main prompt", func(t *testing.T) {
		cfg := testConfig(t)
		skillDir := filepath.Join(cfg.SkillsDir, "pdf")
		require.NoError(t, os.MkdirAll(skillDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"),
			[]byte("---\nname: pdf\ndescription: Process PDF files\n---\nUse pdftotext.\n"), 0644))

		a := newTestApp(t, cfg, agenttest.New(), nil)
		assert.True(t, strings.HasPrefix(a.prompt, "You are a coding agent at "+cfg.WorkspacePath+"."))
		assert.Contains(t, a.prompt, "- pdf: Process PDF files")
		assert.Contains(t, a.prompt, "- explore: ")
		assert.Contains(t, a.prompt, "Use TodoWrite to track multi-step work")
	})

	t.Run("should reject an unusable provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Provider.APIKey = ""

		_, err := newApp(context.Background(), appOptions{Config: cfg, Logger: logger.Nop()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid provider configuration")
	})

	t.Run("should fall back to an offline provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Provider.APIKey = ""

		a := newTestApp(t, cfg, nil, func(o *appOptions) {
			o.Provider = nil
			o.Offline = true
		})
		_, err := runPrompt(context.Background(), a, "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no model provider available")
	})

	t.Run("should skip bridges that fail to start", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Bridges = []config.BridgeConfig{{Name: "broken", Command: filepath.Join(t.TempDir(), "missing")}}

		a := newTestApp(t, cfg, agenttest.New(), nil)
		assert.Empty(t, a.bridges)
		assert.False(t, a.registry.Has("broken_anything"))
	})

	t.Run("should write the audit log", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Logging.AuditFile = filepath.Join(t.TempDir(), "audit", "events.jsonl")

		a := newTestApp(t, cfg, agenttest.New(agenttest.Text("done")), nil)
		_, err := runPrompt(context.Background(), a, "hello")
		require.NoError(t, err)
		a.Close()

		data, err := os.ReadFile(cfg.Logging.AuditFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"action":"run:completed"`)
	})

	t.Run("should serve metrics when an address is set", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Metrics.Addr = "127.0.0.1:0"

		a := newTestApp(t, cfg, agenttest.New(), nil)
		assert.NotNil(t, a.loop)
	})
}

func TestRunPrompt(t *testing.T) {
	t.Run("should run tools inside the workspace", func(t *testing.T) {
		cfg := testConfig(t)
		provider := agenttest.New(
			agenttest.Tools(agenttest.Call("c1", "write_file", map[string]interface{}{
				"path": "notes/hello.txt", "content": "hi",
			})),
			agenttest.Text("done"),
		)

		out := &bytes.Buffer{}
		p := newPrinter(out, false)
		a := newTestApp(t, cfg, provider, func(o *appOptions) {
			o.OnEvent = p.Event
			o.OnSubagent = p.Subagent
		})

		text, err := runPrompt(context.Background(), a, "  write a note  ")
		require.NoError(t, err)
		assert.Equal(t, "done", text)

		data, err := os.ReadFile(filepath.Join(cfg.WorkspacePath, "notes", "hello.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hi", string(data))

		assert.Contains(t, out.String(), "> write_file\n")
		assert.Contains(t, out.String(), "Wrote 2 bytes to notes/hello.txt")
		assert.Contains(t, out.String(), "done\n")

		reqs := provider.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, "write a note", reqs[0].Messages[0].Content)
		assert.Equal(t, cfg.Provider.Model, reqs[0].Model)
	})

	t.Run("should delegate to a subagent", func(t *testing.T) {
		provider := agenttest.New(
			agenttest.Tools(agenttest.Call("c1", "Task", map[string]interface{}{
				"role": "explore", "task_description": "find the entry point", "label": "scan repo",
			})),
			agenttest.Text("main.go holds main"),
			agenttest.Text("all done"),
		)

		out := &bytes.Buffer{}
		p := newPrinter(out, false)
		a := newTestApp(t, testConfig(t), provider, func(o *appOptions) {
			o.OnEvent = p.Event
			o.OnSubagent = p.Subagent
		})

		text, err := runPrompt(context.Background(), a, "where is main?")
		require.NoError(t, err)
		assert.Equal(t, "all done", text)

		reqs := provider.Requests()
		require.Len(t, reqs, 3)
		assert.Len(t, reqs[1].Messages, 1)
		assert.Equal(t, "find the entry point", reqs[1].Messages[0].Content)
		results := agenttest.LastToolResults(reqs[2])
		require.Len(t, results, 1)
		assert.Equal(t, "main.go holds main", results[0].Content)

		assert.Contains(t, out.String(), "[explore: scan repo] started")
		assert.Contains(t, out.String(), "[explore: scan repo] completed in 1 rounds")
		assert.NotContains(t, out.String(), "main.go holds main\n")
	})

	t.Run("should report model failures", func(t *testing.T) {
		a := newTestApp(t, testConfig(t), agenttest.New(agenttest.Fail(errors.New("model down"))), nil)

		_, err := runPrompt(context.Background(), a, "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model down")
	})
}
