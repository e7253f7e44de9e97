package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harun/minicode/internal/config"
	"github.com/harun/minicode/internal/logger"
	"github.com/harun/minicode/internal/observability"
	"github.com/harun/minicode/internal/tracing"
	"github.com/harun/minicode/pkg/agent"
	"github.com/harun/minicode/pkg/bridge"
	"github.com/harun/minicode/pkg/coretools"
	"github.com/harun/minicode/pkg/skills"
	"github.com/harun/minicode/pkg/subagent"
	"github.com/harun/minicode/pkg/todo"
	"github.com/harun/minicode/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// appOptions selects what newApp builds itself and what it is handed
type appOptions struct {
	Config *config.Config
	// Provider overrides the one selected by Config.Provider
	Provider agent.LLMProvider
	// Offline replaces an unusable provider configuration with one that
	// fails every call, for commands that never reach the model
	Offline bool
	// Logger overrides the one built from Config.Logging
	Logger  *logger.Logger
	OnEvent func(agent.Event)
	// OnSubagent receives subagent run records as they change
	OnSubagent subagent.EventHandler
}

// app is one wired harness: tools, bridges, the spawner and the main loop
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	logger   zerolog.Logger
	registry *toolexecutor.Registry
	loop     *agent.Loop
	spawner  *subagent.Spawner
	skills   *skills.Loader
	todos    *todo.Store
	bridges  []*bridge.Bridge
	audit    *observability.AuditLog
	prompt   string

	stopWatch context.CancelFunc
	closers   []func(context.Context) error
	closeOnce sync.Once
}

// newApp wires every component. The registry is sealed before it returns.
// On error everything started so far is shut down.
func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := opts.Config

	a = &app{cfg: cfg, todos: todo.NewStore()}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if err := a.setupLogging(opts.Logger); err != nil {
		return nil, err
	}
	if err := a.setupObservability(ctx); err != nil {
		return nil, err
	}

	provider, err := a.provider(opts)
	if err != nil {
		return nil, err
	}

	a.registry = toolexecutor.New(a.log.Component("tools"))
	if err := coretools.RegisterCoreTools(a.registry, coretools.Options{
		WorkspaceRoot: cfg.WorkspacePath,
		Logger:        a.logger,
	}); err != nil {
		return nil, fmt.Errorf("failed to register core tools: %w", err)
	}
	if err := a.registry.Register(todo.Spec(a.todos)); err != nil {
		return nil, fmt.Errorf("failed to register todo tool: %w", err)
	}
	if err := a.setupSkills(); err != nil {
		return nil, err
	}

	template := agent.Config{
		Provider:             provider,
		Model:                cfg.Provider.Model,
		Temperature:          cfg.Provider.Temperature,
		MaxRounds:            cfg.Loop.MaxRounds,
		WallClock:            cfg.Loop.WallClock,
		MaxOutputTokens:      cfg.Loop.MaxOutputTokens,
		MaxTruncationRetries: cfg.Loop.MaxTruncationRetries,
		OutputLimitBytes:     cfg.Loop.OutputLimitBytes,
		MaxParallelTools:     cfg.Loop.MaxParallelTools,
		MaxRetries:           cfg.Loop.MaxRetries,
		Logger:               a.logger,
		Audit:                a.audit,
		OnEvent:              opts.OnEvent,
	}

	a.spawner, err = subagent.NewSpawner(subagent.Config{
		Tools:           a.registry,
		Loop:            template,
		WorkDir:         cfg.WorkspacePath,
		MaxDepth:        cfg.Subagent.MaxDepth,
		MaxOutputTokens: cfg.Subagent.MaxOutputTokens,
		Todos:           a.todos,
		Logger:          a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create spawner: %w", err)
	}
	if opts.OnSubagent != nil {
		a.spawner.Coordinator().On(subagent.EventRunRegistered, opts.OnSubagent)
		a.spawner.Coordinator().On(subagent.EventRunUpdated, opts.OnSubagent)
	}
	if err := a.registry.Register(a.spawner.ToolSpec()); err != nil {
		return nil, fmt.Errorf("failed to register task tool: %w", err)
	}

	a.startBridges(ctx)
	a.registry.Seal()

	a.prompt = mainSystemPrompt(cfg.WorkspacePath, a.skills.Descriptions())
	view := a.registry.View(toolexecutor.RoleMain)
	loopCfg := template
	loopCfg.Tools = view
	loopCfg.SystemPrompt = a.prompt
	a.loop, err = agent.NewLoop(loopCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create loop: %w", err)
	}

	a.logger.Debug().
		Str("workspace", cfg.WorkspacePath).
		Str("provider", provider.Provider()).
		Strs("tools", view.Names()).
		Msg("Harness ready")
	return a, nil
}

func (a *app) setupLogging(override *logger.Logger) error {
	if override != nil {
		a.log = override
	} else {
		l, err := logger.New(logger.Config{
			Level:     a.cfg.Logging.Level,
			File:      a.cfg.Logging.File,
			Console:   a.cfg.Logging.Console,
			Pretty:    a.cfg.Logging.Pretty,
			Redaction: a.cfg.Logging.Redaction,
		})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		a.log = l
		a.closers = append(a.closers, func(context.Context) error { return l.Close() })
	}
	a.logger = a.log.GetZerolog()
	return nil
}

func (a *app) setupObservability(ctx context.Context) error {
	if a.cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(ctx, tracing.Config{
			ServiceName: a.cfg.Tracing.ServiceName,
			SampleRatio: a.cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	if a.cfg.Metrics.Addr != "" {
		srv, err := startMetricsServer(a.cfg.Metrics.Addr, a.log.Component("metrics"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, srv.Shutdown)
	}

	if a.cfg.Logging.AuditFile != "" {
		audit, err := observability.OpenAuditLog(a.cfg.Logging.AuditFile)
		if err != nil {
			return err
		}
		a.audit = audit
		a.closers = append(a.closers, func(context.Context) error { return audit.Close() })
	}
	return nil
}

func (a *app) provider(opts appOptions) (agent.LLMProvider, error) {
	if opts.Provider != nil {
		return opts.Provider, nil
	}

	p := a.cfg.Provider
	if err := config.NewValidator().ValidateProvider(p); err != nil {
		if opts.Offline {
			return offlineProvider{err: err}, nil
		}
		return nil, fmt.Errorf("invalid provider configuration: %w", err)
	}

	factory := &agent.ProviderFactory{}
	provider, err := factory.NewProvider(agent.ProviderConfig{
		Name:    p.Name,
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return provider, nil
}

func (a *app) setupSkills() error {
	a.skills = skills.NewLoader(a.cfg.SkillsDir, a.logger)
	if err := a.skills.Load(); err != nil {
		return err
	}
	if err := a.registry.Register(skills.ToolSpec(a.skills)); err != nil {
		return fmt.Errorf("failed to register skill tool: %w", err)
	}

	if !a.cfg.WatchSkills {
		return nil
	}
	w, err := skills.NewWatcher(a.skills, skills.WatcherConfig{Logger: a.logger})
	if err != nil {
		return err
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	go func() {
		if err := w.Run(watchCtx); err != nil {
			a.logger.Warn().Err(err).Msg("Skills watcher exited")
		}
	}()
	return nil
}

// startBridges launches every configured bridge and registers its tools.
// A bridge that fails to come up is closed and skipped.
func (a *app) startBridges(ctx context.Context) {
	for _, bc := range a.cfg.Bridges {
		bc.ApplyBridgeDefaults()

		roles, err := parseRoles(bc.Roles)
		if err != nil {
			a.logger.Warn().Str("bridge", bc.Name).Err(err).Msg("Skipping bridge")
			continue
		}
		category, ok := toolexecutor.ParseCategory(bc.Category)
		if !ok {
			a.logger.Warn().Str("bridge", bc.Name).Str("category", bc.Category).Msg("Skipping bridge with unknown category")
			continue
		}

		b, err := bridge.New(bridge.Config{
			Name:           bc.Name,
			Command:        bc.Command,
			Args:           bc.Args,
			Env:            bc.Env,
			Dir:            bc.Dir,
			CallTimeout:    bc.CallTimeout,
			StartTimeout:   bc.StartTimeout,
			DisableRestart: bc.DisableRestart,
			MaxRestarts:    bc.MaxRestarts,
			ClientVersion:  version,
			Logger:         a.logger,
		})
		if err != nil {
			a.logger.Warn().Str("bridge", bc.Name).Err(err).Msg("Skipping bridge")
			continue
		}

		names, err := b.RegisterTools(ctx, a.registry, bridge.RegisterOptions{Category: category, Roles: roles})
		if err != nil {
			a.logger.Warn().Str("bridge", bc.Name).Err(err).Msg("Bridge failed to start")
			_ = b.Close()
			continue
		}
		a.logger.Info().Str("bridge", bc.Name).Strs("tools", names).Msg("Bridge connected")
		a.bridges = append(a.bridges, b)
	}
}

// Close stops the watcher and bridges, then flushes telemetry and logs.
// Only the first call has an effect.
func (a *app) Close() {
	a.closeOnce.Do(a.close)
}

func (a *app) close() {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	for _, b := range a.bridges {
		if err := b.Close(); err != nil {
			a.logger.Warn().Str("bridge", b.Name()).Err(err).Msg("Failed to close bridge")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// logger closes last
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Shutdown step failed")
		}
	}
}

func parseRoles(names []string) ([]toolexecutor.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	roles := make([]toolexecutor.Role, 0, len(names))
	for _, name := range names {
		role, err := toolexecutor.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func startMetricsServer(addr string, logger zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server started")
	return srv, nil
}

// offlineProvider fails every call with the reason no provider is available
type offlineProvider struct {
	err error
}

func (p offlineProvider) Call(ctx context.Context, request agent.LLMRequest) (*agent.LLMResponse, error) {
	return nil, fmt.Errorf("no model provider available: %w", p.err)
}

func (offlineProvider) Provider() string {
	return "offline"
}

func mainSystemPrompt(workDir, skillDescriptions string) string {
	return fmt.Sprintf(`You are a coding agent at %s.

Loop: plan -> act with tools -> report.

**Skills available** (invoke with Skill tool when task matches):
%s

**Subagents available** (invoke with Task tool for focused subtasks):
%s

Rules:
- Use Skill tool IMMEDIATELY when a task matches a skill description
- Use Task tool for subtasks needing focused exploration or implementation
- Use TodoWrite to track multi-step work
- Prefer tools over prose. Act, don't just explain.
- After finishing, summarize what changed.`, workDir, skillDescriptions, toolexecutor.Describe())
}
