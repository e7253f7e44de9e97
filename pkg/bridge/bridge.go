package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/minicode/internal/observability"
	"github.com/harun/minicode/internal/tracing"
	"github.com/harun/minicode/pkg/errdefs"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "minicode.bridge"

	DefaultCallTimeout  = 60 * time.Second
	DefaultStartTimeout = 30 * time.Second
	DefaultMaxRestarts  = 3

	closeGrace = 2 * time.Second
	// drainGrace bounds how long the reader may keep draining stdout after
	// the provider was reaped
	drainGrace = 500 * time.Millisecond
)

// Config describes one external tool provider
type Config struct {
	Name    string
	Command string
	Args    []string
	// Env is added to the host environment, e.g. a connection target URL
	Env map[string]string
	Dir string

	CallTimeout  time.Duration
	StartTimeout time.Duration

	// The process is relaunched on the next call after it exited, at most
	// MaxRestarts times (DefaultMaxRestarts when zero) unless DisableRestart
	// is set.
	DisableRestart bool
	MaxRestarts    int

	ClientName    string
	ClientVersion string

	Logger zerolog.Logger
}

// Bridge owns one provider process and multiplexes JSON-RPC calls over its
// stdin and stdout.
type Bridge struct {
	cfg    Config
	logger zerolog.Logger

	// ids are unique for the bridge lifetime, across restarts
	nextID atomic.Uint64

	mu       sync.Mutex
	state    State
	proc     *process
	restarts int
	starting *startAttempt
}

// startAttempt is one launch shared by every caller that found the bridge
// starting. err is set before done is closed.
type startAttempt struct {
	done chan struct{}
	err  error
}

// New creates a bridge. The process is launched on first call.
func New(cfg Config) (*Bridge, error) {
	observability.EnsureRegistered()

	if cfg.Name == "" {
		return nil, fmt.Errorf("bridge name is required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("bridge %s: command is required", cfg.Name)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "minicode"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "0.1.0"
	}

	b := &Bridge{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "bridge").Str("bridge", cfg.Name).Logger(),
		state:  StateNotStarted,
	}
	observability.SetBridgeState(cfg.Name, int(StateNotStarted))
	return b, nil
}

// Name returns the configured bridge name
func (b *Bridge) Name() string {
	return b.cfg.Name
}

// State returns the current lifecycle state
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PID returns the provider process id, or 0 when none is running
func (b *Bridge) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proc == nil {
		return 0
	}
	return b.proc.pid()
}

// Restarts returns how many times the process was relaunched
func (b *Bridge) Restarts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restarts
}

// Start launches the process and completes the handshake if it is not
// running yet.
func (b *Bridge) Start(ctx context.Context) error {
	_, err := b.ensureReady(ctx)
	return err
}

// Call sends one request and waits for its response. A zero timeout uses the
// configured call timeout. Only this call is affected when it times out.
func (b *Bridge) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = b.cfg.CallTimeout
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "bridge.call",
		attribute.String("bridge.name", b.cfg.Name),
		attribute.String("rpc.method", method),
	)

	result, err := b.call(ctx, method, params, timeout)

	duration := time.Since(start)
	observability.RecordBridgeRequest(b.cfg.Name, method, callStatus(err), duration)
	tracing.EndSpan(span, err)

	logger := tracing.LoggerFromContext(ctx, b.logger)
	if err != nil {
		logger.Debug().Str("method", method).Dur("duration", duration).Err(err).Msg("Bridge call failed")
		return nil, err
	}
	logger.Debug().Str("method", method).Dur("duration", duration).Msg("Bridge call completed")
	return result, nil
}

func (b *Bridge) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	p, err := b.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.roundTrip(callCtx, p, method, params)
}

// Close stops the process. The bridge cannot be used afterwards.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return nil
	}
	p := b.proc
	b.proc = nil
	b.state = StateClosed
	b.mu.Unlock()
	observability.SetBridgeState(b.cfg.Name, int(StateClosed))

	if p == nil {
		return nil
	}

	_ = p.stdin.Close()
	select {
	case <-p.done:
	case <-time.After(closeGrace):
		p.kill()
		<-p.done
	}
	b.logger.Info().Msg("Bridge closed")
	return nil
}

// ensureReady returns a ready process, launching or relaunching it as the
// state requires. Concurrent callers share one launch. The launch does not
// depend on the caller that triggered it: a caller whose ctx ends only
// stops waiting.
func (b *Bridge) ensureReady(ctx context.Context) (*process, error) {
	for {
		b.mu.Lock()
		restart := false
		switch b.state {
		case StateClosed:
			b.mu.Unlock()
			return nil, errdefs.IPCf("bridge %s is closed", b.cfg.Name)
		case StateReady:
			p := b.proc
			b.mu.Unlock()
			return p, nil
		case StateStarting:
			attempt := b.starting
			b.mu.Unlock()
			select {
			case <-attempt.done:
				if attempt.err != nil {
					return nil, attempt.err
				}
				continue
			case <-ctx.Done():
				return nil, b.waitError(ctx)
			}
		case StateDegraded:
			if b.cfg.DisableRestart {
				b.mu.Unlock()
				return nil, errdefs.IPCf("bridge %s exited and restarts are disabled", b.cfg.Name)
			}
			if b.restarts >= b.cfg.MaxRestarts {
				b.mu.Unlock()
				return nil, errdefs.IPCf("bridge %s exited and %d restarts are exhausted", b.cfg.Name, b.cfg.MaxRestarts)
			}
			b.restarts++
			restart = true
		}

		attempt := &startAttempt{done: make(chan struct{})}
		b.state = StateStarting
		b.starting = attempt
		b.mu.Unlock()
		observability.SetBridgeState(b.cfg.Name, int(StateStarting))

		go b.start(context.WithoutCancel(ctx), attempt, restart)
	}
}

// start runs one launch and publishes its outcome
func (b *Bridge) start(ctx context.Context, attempt *startAttempt, restart bool) {
	p, err := b.launch(ctx)

	b.mu.Lock()
	defer close(attempt.done)
	if b.state == StateClosed {
		b.mu.Unlock()
		if p != nil {
			p.kill()
		}
		attempt.err = errdefs.IPCf("bridge %s is closed", b.cfg.Name)
		return
	}
	if err != nil {
		b.state = StateDegraded
		b.mu.Unlock()
		observability.SetBridgeState(b.cfg.Name, int(StateDegraded))
		b.logger.Warn().Err(err).Msg("Bridge failed to start")
		attempt.err = err
		return
	}
	select {
	case <-p.done:
		// exited before it was published, onExit skipped it
		b.state = StateDegraded
		b.mu.Unlock()
		observability.SetBridgeState(b.cfg.Name, int(StateDegraded))
		attempt.err = b.exitError(p, "initialize")
		return
	default:
	}
	b.proc = p
	b.state = StateReady
	b.mu.Unlock()

	observability.SetBridgeState(b.cfg.Name, int(StateReady))
	if restart {
		observability.RecordBridgeRestart(b.cfg.Name)
	}
	b.logger.Info().Int("pid", p.pid()).Bool("restart", restart).Msg("Bridge ready")
}

// launch starts the process, its I/O goroutines and the handshake
func (b *Bridge) launch(ctx context.Context) (*process, error) {
	cmd := exec.Command(b.cfg.Command, b.cfg.Args...)
	cmd.Dir = b.cfg.Dir
	cmd.Env = b.environ()
	cmd.SysProcAttr = providerSysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeIPC, err, "failed to open stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeIPC, err, "failed to open stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeIPC, err, "failed to open stderr")
	}

	if err := cmd.Start(); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeIPC, err, fmt.Sprintf("failed to start %s", b.cfg.Command))
	}

	p := newProcess(cmd, stdin, stdout, stderr)
	go b.logStderr(stderr)
	go p.writeLoop()
	go b.readLoop(p, stdout)
	go b.waitLoop(p)

	hsCtx, cancel := context.WithTimeout(ctx, b.cfg.StartTimeout)
	defer cancel()
	if err := b.handshake(hsCtx, p); err != nil {
		p.kill()
		<-p.done
		return nil, errdefs.Wrap(errdefs.CodeIPC, err, "handshake failed")
	}
	return p, nil
}

func (b *Bridge) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(b.cfg.Env))
	for k := range b.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+b.cfg.Env[k])
	}
	return env
}

func (b *Bridge) handshake(ctx context.Context, p *process) error {
	params := map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    b.cfg.ClientName,
			"version": b.cfg.ClientVersion,
		},
	}
	if _, err := b.roundTrip(ctx, p, "initialize", params); err != nil {
		return err
	}
	return b.notify(ctx, p, "notifications/initialized", nil)
}

// roundTrip writes one request to p and waits for the matching response
func (b *Bridge) roundTrip(ctx context.Context, p *process, method string, params interface{}) (json.RawMessage, error) {
	id := b.nextID.Add(1)
	data, err := encodeRequest(method, params, &id)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidation, err, "invalid request")
	}

	ch, err := p.register(id)
	if err != nil {
		return nil, err
	}

	if err := p.write(ctx, data); err != nil {
		p.unregister(id)
		if ctx.Err() != nil {
			return nil, b.contextError(ctx, method, id)
		}
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, b.exitError(p, method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		p.unregister(id)
		return nil, b.contextError(ctx, method, id)
	}
}

func (b *Bridge) notify(ctx context.Context, p *process, method string, params interface{}) error {
	data, err := encodeRequest(method, params, nil)
	if err != nil {
		return err
	}
	return p.write(ctx, data)
}

func (b *Bridge) contextError(ctx context.Context, method string, id uint64) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Wrap(errdefs.CodeTimeout, err, fmt.Sprintf("bridge %s: %s (id %d) timed out", b.cfg.Name, method, id))
	}
	return fmt.Errorf("bridge %s: %s (id %d) cancelled: %w", b.cfg.Name, method, id, err)
}

// waitError classifies a ctx that ended while the process was starting
func (b *Bridge) waitError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Wrap(errdefs.CodeTimeout, err, fmt.Sprintf("bridge %s: timed out waiting for start", b.cfg.Name))
	}
	return fmt.Errorf("bridge %s: cancelled waiting for start: %w", b.cfg.Name, err)
}

func (b *Bridge) exitError(p *process, method string) error {
	msg := fmt.Sprintf("bridge %s: provider exited during %s", b.cfg.Name, method)
	if p.exitErr != nil {
		return errdefs.Wrap(errdefs.CodeIPC, p.exitErr, msg)
	}
	return errdefs.New(errdefs.CodeIPC, msg)
}

// readLoop parses frames from stdout until it closes
func (b *Bridge) readLoop(p *process, stdout io.Reader) {
	defer close(p.readerDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	for scanner.Scan() {
		b.handleFrame(p, scanner.Bytes())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		b.logger.Warn().Err(err).Msg("Bridge reader stopped")
	}

	// stdout is gone, the process cannot answer anymore
	p.kill()
}

// waitLoop reaps the provider and fails whatever is still pending. Exit is
// detected from the process itself, so a child that inherited stdout cannot
// keep a dead provider looking alive.
func (b *Bridge) waitLoop(p *process) {
	state, err := p.cmd.Process.Wait()
	if err == nil && !state.Success() {
		err = &exec.ExitError{ProcessState: state}
	}

	// take down anything the provider left behind holding the pipes
	_ = killTree(p.cmd.Process)
	p.reaped.Store(true)

	timer := time.NewTimer(drainGrace)
	select {
	case <-p.readerDone:
		timer.Stop()
	case <-timer.C:
		_ = p.stdout.Close()
		<-p.readerDone
	}

	p.exit(err)
	b.onExit(p, err)
}

func (b *Bridge) handleFrame(p *process, frame []byte) {
	if len(frame) == 0 {
		return
	}

	var resp response
	if err := json.Unmarshal(frame, &resp); err != nil {
		b.dropFrame("malformed", frame, err)
		return
	}

	if !resp.hasID() {
		if resp.Method != "" {
			b.logger.Debug().Str("method", resp.Method).Msg("Bridge notification")
			return
		}
		b.dropFrame("missing_id", frame, nil)
		return
	}

	id, ok := resp.numericID()
	if !ok {
		b.dropFrame("bad_id", frame, nil)
		return
	}
	// "result": null decodes to a non-nil RawMessage and is a valid reply
	if resp.Result == nil && resp.Error == nil {
		b.dropFrame("empty", frame, nil)
		return
	}
	if !p.deliver(id, &resp) {
		b.dropFrame("unknown_id", frame, nil)
	}
}

func (b *Bridge) dropFrame(reason string, frame []byte, err error) {
	observability.RecordDroppedFrame(b.cfg.Name, reason)
	event := b.logger.Warn().Str("reason", reason).Int("bytes", len(frame))
	if err != nil {
		event = event.Err(err)
	}
	if len(frame) > 200 {
		frame = frame[:200]
	}
	event.Bytes("frame", frame).Msg("Dropped bridge frame")
}

func (b *Bridge) onExit(p *process, waitErr error) {
	b.mu.Lock()
	current := b.proc == p
	if current {
		b.proc = nil
		if b.state != StateClosed {
			b.state = StateDegraded
		}
	}
	state := b.state
	b.mu.Unlock()

	if !current {
		return
	}
	observability.SetBridgeState(b.cfg.Name, int(state))
	if state == StateDegraded {
		b.logger.Warn().Err(waitErr).Msg("Bridge process exited")
	}
}

func (b *Bridge) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		b.logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
	_, _ = io.Copy(io.Discard, stderr)
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errdefs.IsTimeout(err):
		return "timeout"
	case errdefs.IsIPC(err):
		return "ipc_error"
	default:
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return "rpc_error"
		}
		return "error"
	}
}
