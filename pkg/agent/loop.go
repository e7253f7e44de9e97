package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/harun/minicode/internal/observability"
	"github.com/harun/minicode/internal/tracing"
	"github.com/harun/minicode/pkg/errdefs"
	"github.com/harun/minicode/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const tracerName = "minicode.agent"

// TruncationNudge is appended as a user message after a response was cut off
// by the output token limit.
const TruncationNudge = "[SYSTEM: Your previous response was truncated due to length. Please provide a brief summary, or write large content to a file using write_file tool.]"

// Defaults applied by NewLoop to zero-valued Config fields.
const (
	DefaultMaxRounds            = 50
	DefaultWallClock            = 10 * time.Minute
	DefaultMaxOutputTokens      = 160000
	DefaultMaxTruncationRetries = 3
	DefaultOutputLimitBytes     = 50000
	DefaultMaxParallelTools     = 8
	DefaultMaxRetries           = 3
	DefaultRetryBaseDelay       = time.Second
)

// ToolSet is the role-bound set of tools a loop may call.
// *toolexecutor.View satisfies it.
type ToolSet interface {
	Role() toolexecutor.Role
	Specs() []toolexecutor.ToolSpec
	Dispatch(ctx context.Context, name string, args map[string]interface{}) toolexecutor.Result
}

// Config holds loop configuration
type Config struct {
	Provider     LLMProvider
	Tools        ToolSet
	Model        string
	SystemPrompt string
	Temperature  float64

	MaxRounds            int
	WallClock            time.Duration
	MaxOutputTokens      int
	MaxTruncationRetries int
	OutputLimitBytes     int
	MaxParallelTools     int
	// MaxRetries is the number of retries after a transient model error.
	// Negative disables retries.
	MaxRetries     int
	RetryBaseDelay time.Duration

	Logger  zerolog.Logger
	Audit   *observability.AuditLog
	OnEvent func(Event)
}

// RunResult is the outcome of a completed run
type RunResult struct {
	Text         string
	Conversation *Conversation
	Rounds       int
	Usage        TokenUsage
}

// Loop drives a model through tool-use rounds until it stops calling tools
type Loop struct {
	cfg    Config
	logger zerolog.Logger
}

// NewLoop creates a loop, applying defaults to unset budgets
func NewLoop(cfg Config) (*Loop, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool set is required")
	}

	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.WallClock <= 0 {
		cfg.WallClock = DefaultWallClock
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.MaxTruncationRetries <= 0 {
		cfg.MaxTruncationRetries = DefaultMaxTruncationRetries
	}
	if cfg.OutputLimitBytes <= 0 {
		cfg.OutputLimitBytes = DefaultOutputLimitBytes
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = DefaultMaxParallelTools
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}

	return &Loop{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "loop").Logger(),
	}, nil
}

// Role returns the role of the loop's tool set
func (l *Loop) Role() toolexecutor.Role {
	return l.cfg.Tools.Role()
}

// runState is owned by one Run call
type runState struct {
	conv        *Conversation
	specs       []toolexecutor.ToolSpec
	round       int
	truncations int
	usage       TokenUsage
	seenIDs     map[string]struct{}
	logger      zerolog.Logger
}

// Run drives conv to completion. Errors are *RunError values unwrapping to
// an errdefs TIMEOUT or FATAL error.
func (l *Loop) Run(ctx context.Context, conv *Conversation) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if conv == nil {
		conv = NewConversation("")
	}

	role := l.cfg.Tools.Role()
	ctx = tracing.EnsureRun(ctx)
	if tracing.GetRole(ctx) == "" {
		ctx = tracing.WithRole(ctx, string(role))
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run",
		attribute.String("agent.role", string(role)),
		attribute.String("run.id", tracing.GetRunID(ctx)),
	)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.WallClock)
	defer cancel()

	st := &runState{
		conv:    conv,
		specs:   l.cfg.Tools.Specs(),
		seenIDs: make(map[string]struct{}),
		logger:  tracing.LoggerFromContext(ctx, l.logger),
	}
	for _, msg := range conv.Messages() {
		for _, tc := range msg.ToolCalls {
			st.seenIDs[tc.ID] = struct{}{}
		}
	}

	start := time.Now()
	st.logger.Debug().Int("tools", len(st.specs)).Msg("Run started")

	text, err := l.run(ctx, st)
	duration := time.Since(start)

	status := "completed"
	if err != nil {
		status = "fatal"
		if errdefs.IsTimeout(err) {
			status = "timeout"
		}
	}
	observability.RecordLoopRun(string(role), status, duration)
	l.cfg.Audit.RecordRun(ctx, string(role), status, err == nil, map[string]interface{}{
		"rounds":   st.round,
		"duration": duration.String(),
	})
	span.SetAttributes(attribute.Int("agent.rounds", st.round), attribute.String("agent.status", status))
	tracing.EndSpan(span, err)

	if err != nil {
		st.logger.Warn().Err(err).Int("rounds", st.round).Dur("duration", duration).Msg("Run failed")
		return nil, &RunError{Err: err, Conversation: conv, Rounds: st.round}
	}

	st.logger.Debug().Int("rounds", st.round).Dur("duration", duration).Msg("Run completed")
	l.emit(ctx, Event{Type: EventFinal, Round: st.round, Text: text})
	return &RunResult{
		Text:         text,
		Conversation: conv,
		Rounds:       st.round,
		Usage:        st.usage,
	}, nil
}

func (l *Loop) run(ctx context.Context, st *runState) (string, error) {
	for {
		if ctx.Err() != nil {
			return "", contextError(ctx)
		}
		if st.round >= l.cfg.MaxRounds {
			return "", errdefs.Timeoutf("round budget of %d exhausted", l.cfg.MaxRounds)
		}
		st.round++

		roundCtx, span := tracing.StartSpan(ctx, tracerName, "agent.round", attribute.Int("agent.round", st.round))
		text, done, err := l.round(roundCtx, st)
		tracing.EndSpan(span, err)

		if err != nil {
			return "", err
		}
		if done {
			return text, nil
		}
	}
}

// round runs one model call and the tool calls it proposes. done reports a
// terminal response.
func (l *Loop) round(ctx context.Context, st *runState) (text string, done bool, err error) {
	role := string(l.cfg.Tools.Role())
	observability.RecordLoopRound(role)
	l.emit(ctx, Event{Type: EventRound, Round: st.round})

	messages := st.conv.Messages()
	request := LLMRequest{
		Model:        l.cfg.Model,
		SystemPrompt: l.cfg.SystemPrompt,
		Messages:     messages,
		Tools:        st.specs,
		Temperature:  l.cfg.Temperature,
		MaxTokens:    MaxTokensFor(EstimateTokens(messages), l.cfg.MaxOutputTokens),
	}

	response, err := l.callModel(ctx, st, request)
	if err != nil {
		return "", false, err
	}
	st.usage.Add(response.Usage)

	if response.Content != "" {
		l.emit(ctx, Event{Type: EventText, Round: st.round, Text: response.Content})
	}

	if response.StopReason == StopMaxTokens {
		// Tool calls of a cut-off response may be incomplete, keep the text only.
		if response.Content != "" {
			st.conv.AppendAssistant(response.Content, nil)
		}
		st.conv.AppendUser(TruncationNudge)
		return "", false, l.countTruncation(ctx, st, "max_tokens")
	}

	if len(response.ToolCalls) == 0 {
		st.conv.AppendAssistant(response.Content, nil)
		return response.Content, true, nil
	}

	calls, err := st.claimCallIDs(response.ToolCalls)
	if err != nil {
		return "", false, err
	}

	results, truncated := l.executeCalls(ctx, st, calls)

	st.conv.AppendAssistant(response.Content, calls)
	st.conv.AppendToolResults(results)

	if ctx.Err() != nil {
		return "", false, contextError(ctx)
	}

	if truncated {
		return "", false, l.countTruncation(ctx, st, "tool_output")
	}
	st.truncations = 0
	return "", false, nil
}

func (l *Loop) countTruncation(ctx context.Context, st *runState, kind string) error {
	st.truncations++
	observability.RecordTruncation(string(l.cfg.Tools.Role()), kind)
	l.emit(ctx, Event{Type: EventTruncated, Round: st.round, Text: kind})
	st.logger.Debug().Str("kind", kind).Int("count", st.truncations).Msg("Truncation recorded")

	if st.truncations > l.cfg.MaxTruncationRetries {
		return errdefs.Fatalf("output truncated %d rounds in a row, retry budget is %d", st.truncations, l.cfg.MaxTruncationRetries)
	}
	return nil
}

// claimCallIDs fills empty ids and rejects ids already used in this run
func (st *runState) claimCallIDs(calls []ToolCall) ([]ToolCall, error) {
	out := make([]ToolCall, len(calls))
	batch := make(map[string]struct{}, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", st.round, i)
		}
		if _, dup := batch[call.ID]; dup {
			return nil, errdefs.Fatalf("duplicate tool call id %q in one response", call.ID)
		}
		if _, dup := st.seenIDs[call.ID]; dup {
			return nil, errdefs.Fatalf("tool call id %q was already answered in this run", call.ID)
		}
		batch[call.ID] = struct{}{}
		out[i] = call
	}
	for id := range batch {
		st.seenIDs[id] = struct{}{}
	}
	return out, nil
}

// executeCalls runs calls concurrently. Results are returned in call order.
func (l *Loop) executeCalls(ctx context.Context, st *runState, calls []ToolCall) ([]ToolResult, bool) {
	for _, call := range calls {
		l.emit(ctx, Event{
			Type:       EventToolCall,
			Round:      st.round,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Arguments:  call.Arguments,
		})
	}

	results := make([]ToolResult, len(calls))
	durations := make([]time.Duration, len(calls))

	var g errgroup.Group
	g.SetLimit(l.cfg.MaxParallelTools)
	for i := range calls {
		i := i
		g.Go(func() error {
			results[i], durations[i] = l.executeCall(ctx, calls[i])
			return nil
		})
	}
	_ = g.Wait()

	truncated := false
	for i := range results {
		content, cut := TruncateOutput(results[i].Content, l.cfg.OutputLimitBytes)
		if cut {
			truncated = true
			st.logger.Debug().
				Str("tool", calls[i].Name).
				Int("bytes", len(results[i].Content)).
				Msg("Tool output truncated")
			results[i].Content = content
		}

		l.cfg.Audit.RecordTool(ctx, calls[i].Name, string(l.cfg.Tools.Role()), !results[i].IsError, map[string]interface{}{
			"tool_call_id": calls[i].ID,
			"truncated":    cut,
		})
		l.emit(ctx, Event{
			Type:       EventToolResult,
			Round:      st.round,
			ToolName:   calls[i].Name,
			ToolCallID: calls[i].ID,
			Output:     results[i].Content,
			IsError:    results[i].IsError,
			Duration:   durations[i],
		})
	}
	return results, truncated
}

func (l *Loop) executeCall(ctx context.Context, call ToolCall) (result ToolResult, duration time.Duration) {
	start := time.Now()
	result.ToolCallID = call.ID

	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error().Str("tool", call.Name).Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("Tool call panicked")
			result.Content = fmt.Sprintf("Error: tool panicked: %v", rec)
			result.IsError = true
		}
		duration = time.Since(start)
	}()

	if call.argErr != nil {
		err := errdefs.Wrap(errdefs.CodeValidation, call.argErr, fmt.Sprintf("invalid arguments for %s", call.Name))
		result.Content = "Error: " + err.Error()
		result.IsError = true
		return result, 0
	}

	ctx = toolexecutor.ContextWithCallInfo(ctx, toolexecutor.CallInfo{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Role:       l.cfg.Tools.Role(),
	})
	res := l.cfg.Tools.Dispatch(ctx, call.Name, call.Arguments)
	result.Content = res.Content
	result.IsError = res.IsError
	return result, 0
}

// callModel calls the provider, retrying transient errors with exponential
// backoff.
func (l *Loop) callModel(ctx context.Context, st *runState, request LLMRequest) (*LLMResponse, error) {
	provider := l.cfg.Provider.Provider()
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		response, err := l.cfg.Provider.Call(ctx, request)
		observability.RecordModelCall(provider, err == nil)
		if err == nil {
			if response == nil {
				return nil, errdefs.Fatalf("provider %s returned no response", provider)
			}
			return response, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, contextError(ctx)
		}
		if !IsRetryableError(err) {
			return nil, errdefs.Wrap(errdefs.CodeFatal, err, "model call failed")
		}
		if attempt == l.cfg.MaxRetries {
			break
		}

		delay := l.cfg.RetryBaseDelay << attempt
		st.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, contextError(ctx)
		case <-timer.C:
		}
	}

	return nil, errdefs.Wrap(errdefs.CodeFatal, lastErr, fmt.Sprintf("model call failed after %d attempts", l.cfg.MaxRetries+1))
}

func (l *Loop) emit(ctx context.Context, event Event) {
	if l.cfg.OnEvent == nil {
		return
	}
	event.Role = l.cfg.Tools.Role()
	event.RunID = tracing.GetRunID(ctx)
	l.cfg.OnEvent(event)
}

// contextError classifies a done context: an expired deadline is a
// timeout, anything else is a cancellation.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Wrap(errdefs.CodeTimeout, err, "wall clock budget exhausted")
	}
	return errdefs.Wrap(errdefs.CodeFatal, err, "run cancelled")
}
