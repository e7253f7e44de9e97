package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/minicode/internal/observability"
	"github.com/harun/minicode/internal/tracing"
	"github.com/harun/minicode/pkg/agent"
	"github.com/harun/minicode/pkg/errdefs"
	"github.com/harun/minicode/pkg/todo"
	"github.com/harun/minicode/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "minicode.subagent"

const (
	DefaultMaxDepth        = 1
	DefaultMaxOutputTokens = 8000
)

// EmptySummary is returned when a subagent finishes without any text
const EmptySummary = "(subagent returned no text)"

// ToolViews hands out role-bound tool sets. *toolexecutor.Registry satisfies it.
type ToolViews interface {
	View(role toolexecutor.Role) *toolexecutor.View
}

// SpawnRequest describes one delegated task
type SpawnRequest struct {
	Role            toolexecutor.Role
	TaskDescription string
	// Label is a short name for progress output and run records
	Label string
}

// Config holds spawner configuration
type Config struct {
	Tools ToolViews
	// Loop is the template for nested loops. Tools, SystemPrompt and
	// MaxOutputTokens are replaced per spawn.
	Loop agent.Config

	WorkDir         string
	MaxDepth        int
	MaxOutputTokens int

	Coordinator *Coordinator
	Todos       *todo.Store
	Logger      zerolog.Logger
}

// Spawner runs subagents in isolated conversations
type Spawner struct {
	cfg         Config
	coordinator *Coordinator
	logger      zerolog.Logger
}

// NewSpawner creates a spawner, applying defaults to unset limits
func NewSpawner(cfg Config) (*Spawner, error) {
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool views are required")
	}
	if cfg.Loop.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = NewCoordinator(cfg.Logger)
	}

	observability.EnsureRegistered()

	return &Spawner{
		cfg:         cfg,
		coordinator: cfg.Coordinator,
		logger:      cfg.Logger.With().Str("component", "spawner").Logger(),
	}, nil
}

// Coordinator returns the run tracker
func (s *Spawner) Coordinator() *Coordinator {
	return s.coordinator
}

// Spawn runs a subagent to completion and returns its final text.
// The subagent sees only TaskDescription; nothing of the caller's history.
func (s *Spawner) Spawn(ctx context.Context, req SpawnRequest) (summary string, err error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	depth := DepthFromContext(ctx)
	if depth >= s.cfg.MaxDepth {
		return "", errdefs.Validationf("subagent depth limit of %d reached", s.cfg.MaxDepth)
	}

	role := string(req.Role)
	childCtx := tracing.PropagateToSubAgent(ctx, role)
	childCtx = WithDepth(childCtx, depth+1)
	childRunID := tracing.GetRunID(childCtx)

	childCtx, span := tracing.StartSpan(childCtx, tracerName, "subagent.spawn",
		attribute.String("role", role),
		attribute.String("label", req.Label),
		attribute.Int("depth", depth+1),
	)
	defer func() { tracing.EndSpan(span, err) }()

	logger := tracing.LoggerFromContext(childCtx, s.logger)

	id, err := s.coordinator.RegisterRun(RunParams{
		ParentRunID: tracing.GetRunID(ctx),
		RunID:       childRunID,
		Role:        role,
		Label:       req.Label,
		Task:        req.TaskDescription,
	})
	if err != nil {
		return "", errdefs.Wrap(errdefs.CodeFatal, err, "failed to register subagent run")
	}

	if s.cfg.Todos != nil {
		defer s.cfg.Todos.Release(childRunID)
	}

	loop, err := agent.NewLoop(s.loopConfig(req.Role))
	if err != nil {
		_ = s.coordinator.Fail(id, err, 0)
		return "", errdefs.Wrap(errdefs.CodeFatal, err, "failed to build subagent loop")
	}

	observability.IncSubagentActive()
	defer observability.DecSubagentActive()

	_ = s.coordinator.MarkRunning(id)
	logger.Info().Str("label", req.Label).Int("depth", depth+1).Msg("Spawning subagent")

	start := time.Now()
	result, runErr := loop.Run(childCtx, agent.NewConversation(req.TaskDescription))
	elapsed := time.Since(start)

	if runErr != nil {
		rounds := 0
		var re *agent.RunError
		if errors.As(runErr, &re) {
			rounds = re.Rounds
		}
		_ = s.coordinator.Fail(id, runErr, rounds)
		observability.RecordSubagentRun(role, false)
		logger.Warn().Err(runErr).Dur("duration", elapsed).Int("rounds", rounds).Msg("Subagent failed")
		return "", fmt.Errorf("%s subagent failed: %w", role, runErr)
	}

	summary = strings.TrimSpace(result.Text)
	if summary == "" {
		summary = EmptySummary
	}
	_ = s.coordinator.Complete(id, summary, result.Rounds)
	observability.RecordSubagentRun(role, true)
	logger.Info().Dur("duration", elapsed).Int("rounds", result.Rounds).Msg("Subagent completed")

	return summary, nil
}

func validateRequest(req SpawnRequest) error {
	if strings.TrimSpace(req.TaskDescription) == "" {
		return errdefs.Validationf("task_description is required")
	}
	for _, r := range toolexecutor.SpawnableRoles() {
		if r == req.Role {
			return nil
		}
	}
	return errdefs.Validationf("role %q cannot be spawned", req.Role)
}

func (s *Spawner) loopConfig(role toolexecutor.Role) agent.Config {
	cfg := s.cfg.Loop
	cfg.Tools = s.cfg.Tools.View(role)
	cfg.SystemPrompt = SystemPrompt(role, s.cfg.WorkDir)
	cfg.MaxOutputTokens = s.cfg.MaxOutputTokens
	return cfg
}

// SystemPrompt renders the system prompt of a subagent
func SystemPrompt(role toolexecutor.Role, workDir string) string {
	profile, _ := toolexecutor.Profile(role)
	return fmt.Sprintf("You are a %s subagent at %s.\n\n%s\n\nComplete the task and return a clear, concise summary.",
		role, workDir, profile.Prompt)
}
