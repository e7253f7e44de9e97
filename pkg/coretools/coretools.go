package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/minicode/pkg/errdefs"
	"github.com/harun/minicode/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// DefaultBashTimeout bounds one bash invocation
const DefaultBashTimeout = 120 * time.Second

// ErrDangerousCommand is returned for commands on the blocklist
var ErrDangerousCommand = errors.New("Dangerous command blocked")

var dangerousCommands = []string{"rm -rf /", "sudo", "shutdown", "reboot", "> /dev/"}

// Options configures core tool registration.
type Options struct {
	WorkspaceRoot string
	BashTimeout   time.Duration
	Logger        zerolog.Logger
}

// Registrar accepts tool specs. *toolexecutor.Registry satisfies it.
type Registrar interface {
	Register(spec toolexecutor.ToolSpec) error
}

// RegisterCoreTools registers the shell and filesystem tools.
func RegisterCoreTools(registry Registrar, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return errors.New("workspace root is not configured")
	}
	root, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	opts.WorkspaceRoot = root
	if opts.BashTimeout <= 0 {
		opts.BashTimeout = DefaultBashTimeout
	}

	for _, spec := range Specs(opts) {
		if err := registry.Register(spec); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Specs returns the core tool specs bound to opts.WorkspaceRoot
func Specs(opts Options) []toolexecutor.ToolSpec {
	return []toolexecutor.ToolSpec{
		bashTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
	}
}

func bashTool(opts Options) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name:        "bash",
		Description: "Run a shell command.",
		InputSchema: toolexecutor.ObjectSchema(map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
		}, "command"),
		Category: toolexecutor.CategoryShell,
		Handler: toolexecutor.Local(func(ctx context.Context, args map[string]interface{}) (string, error) {
			command, _ := args["command"].(string)
			return runBash(ctx, opts, command)
		}),
	}
}

func runBash(ctx context.Context, opts Options, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", errdefs.Validationf("command is required")
	}
	for _, d := range dangerousCommands {
		if strings.Contains(command, d) {
			opts.Logger.Warn().Str("command", command).Msg("Blocked dangerous command")
			return "", ErrDangerousCommand
		}
	}

	timeout := opts.BashTimeout
	if timeout <= 0 {
		timeout = DefaultBashTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = opts.WorkspaceRoot
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// children that keep the pipes open must not hold Wait forever
	cmd.WaitDelay = 2 * time.Second

	opts.Logger.Debug().Str("command", command).Msg("Running bash")
	runErr := cmd.Run()

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errdefs.Timeoutf("command timed out after %s", timeout)
	}

	output := strings.TrimSpace(strings.ToValidUTF8(stdout.String()+stderr.String(), "�"))
	if output == "" {
		output = "(no output)"
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return "", errdefs.Wrap(errdefs.CodeFatal, runErr, "failed to run command")
		}
		output = fmt.Sprintf("%s\n(exit code %d)", output, exitErr.ExitCode())
	}
	return output, nil
}

func readFileTool(opts Options) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name:        "read_file",
		Description: "Read file contents.",
		InputSchema: toolexecutor.ObjectSchema(map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Relative path to the file",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max lines to read (default: all)",
			},
		}, "path"),
		Category: toolexecutor.CategoryRead,
		Handler: toolexecutor.Local(func(ctx context.Context, args map[string]interface{}) (string, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return "", err
			}
			content := strings.ToValidUTF8(string(data), "�")

			limit := 0
			if raw, ok := args["limit"].(float64); ok {
				limit = int(raw)
			}
			return limitLines(content, limit), nil
		}),
	}
}

// limitLines keeps the first limit lines and notes how many were dropped
func limitLines(content string, limit int) string {
	if limit <= 0 {
		return content
	}
	lines := splitLines(content)
	if limit >= len(lines) {
		return content
	}
	return fmt.Sprintf("%s\n... (%d more lines)", strings.Join(lines[:limit], "\n"), len(lines)-limit)
}

func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func writeFileTool(opts Options) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name:        "write_file",
		Description: "Write content to file.",
		InputSchema: toolexecutor.ObjectSchema(map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Relative path for the file",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write",
			},
		}, "path", "content"),
		Category: toolexecutor.CategoryWrite,
		Handler: toolexecutor.Local(func(ctx context.Context, args map[string]interface{}) (string, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}
			content, _ := args["content"].(string)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", fmt.Errorf("failed to create parent directories: %w", err)
			}
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), pathValue), nil
		}),
	}
}

func editFileTool(opts Options) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name:        "edit_file",
		Description: "Replace exact text in file.",
		InputSchema: toolexecutor.ObjectSchema(map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Relative path to the file",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to find (must match precisely)",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
		}, "path", "old_text", "new_text"),
		Category: toolexecutor.CategoryWrite,
		Handler: toolexecutor.Local(func(ctx context.Context, args map[string]interface{}) (string, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}
			oldText, _ := args["old_text"].(string)
			newText, _ := args["new_text"].(string)
			if oldText == "" {
				return "", errdefs.Validationf("old_text is required")
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return "", err
			}
			content := string(data)
			if !strings.Contains(content, oldText) {
				return "", fmt.Errorf("Text not found in %s", pathValue)
			}

			updated := strings.Replace(content, oldText, newText, 1)
			if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
				return "", err
			}
			return fmt.Sprintf("Edited %s", pathValue), nil
		}),
	}
}

// resolvePathInWorkspace maps pathValue to an absolute path under
// workspaceRoot. Symlinks are followed for the part of the path that exists.
func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", errdefs.Validationf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", errdefs.Validationf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !within(workspaceRoot, candidate) {
		return "", errdefs.Validationf("path escapes workspace: %s", pathValue)
	}

	realRoot, err := filepath.EvalSymlinks(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	existing, rest := candidate, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
	realExisting, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	if !within(realRoot, realExisting) {
		return "", errdefs.Validationf("path escapes workspace: %s", pathValue)
	}
	return filepath.Join(realExisting, rest), nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
