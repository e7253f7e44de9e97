package bridge

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/harun/minicode/pkg/errdefs"
)

type writeRequest struct {
	data []byte
	errc chan error
}

// process is one running provider instance. Its pending table and writer
// live and die with it.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Closer
	stderr io.Closer
	writes chan writeRequest

	// readerDone is closed when the stdout reader stopped
	readerDone chan struct{}

	// done is closed after the process was reaped and every pending call failed
	done    chan struct{}
	exitErr error

	// reaped is set once the waiter collected the process and its group
	reaped atomic.Bool

	mu      sync.Mutex
	pending map[uint64]chan *response
	exited  bool
}

func newProcess(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.Closer) *process {
	return &process{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		writes:     make(chan writeRequest),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
		pending:    make(map[uint64]chan *response),
	}
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// register adds a waiter for id
func (p *process) register(id uint64) (chan *response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return nil, errdefs.IPCf("provider process has exited")
	}
	ch := make(chan *response, 1)
	p.pending[id] = ch
	return ch, nil
}

// unregister drops the waiter for id, leaving other calls untouched
func (p *process) unregister(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// deliver hands resp to the waiter for id. It reports false for unknown ids.
func (p *process) deliver(id uint64, resp *response) bool {
	p.mu.Lock()
	ch, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if ok {
		ch <- resp
	}
	return ok
}

func (p *process) pendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// exit fails every pending call, releases the pipes and marks the process
// dead. Only the waiter goroutine calls it.
func (p *process) exit(err error) {
	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	p.mu.Unlock()

	_ = p.stdin.Close()
	_ = p.stdout.Close()
	_ = p.stderr.Close()
	close(p.done)
}

// writeLoop serializes frames onto stdin
func (p *process) writeLoop() {
	for {
		select {
		case req := <-p.writes:
			_, err := p.stdin.Write(req.data)
			req.errc <- err
		case <-p.done:
			return
		}
	}
}

// write queues one frame and waits until it reached the pipe. A frame
// still stuck in the pipe when the caller's deadline passes means the
// provider stopped reading stdin; the process is killed, since a half
// written frame would corrupt every later one.
func (p *process) write(ctx context.Context, data []byte) error {
	req := writeRequest{data: data, errc: make(chan error, 1)}

	select {
	case p.writes <- req:
	case <-p.done:
		return errdefs.IPCf("provider process has exited")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.errc:
		if err != nil {
			return errdefs.Wrap(errdefs.CodeIPC, err, "failed to write to provider")
		}
		return nil
	case <-p.done:
		return errdefs.IPCf("provider process has exited")
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.kill()
		}
		return ctx.Err()
	}
}

// kill terminates the provider and everything it spawned
func (p *process) kill() {
	if p.cmd.Process != nil && !p.reaped.Load() {
		_ = killTree(p.cmd.Process)
	}
}
