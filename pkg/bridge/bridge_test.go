package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/minicode/internal/config"
	"github.com/harun/minicode/pkg/errdefs"
	"github.com/harun/minicode/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, logs *syncBuffer, mutate func(*Config)) *Bridge {
	t.Helper()
	if logs == nil {
		logs = &syncBuffer{}
	}
	cfg := Config{
		Name:         "fake",
		Command:      os.Args[0],
		Args:         []string{"-test.run=^$"},
		Env:          map[string]string{helperEnv: "1", "FAKE_TARGET_URL": "http://localhost:9222"},
		CallTimeout:  5 * time.Second,
		StartTimeout: 10 * time.Second,
		Logger:       zerolog.New(logs).Level(zerolog.DebugLevel),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNew(t *testing.T) {
	t.Run("should require name and command", func(t *testing.T) {
		_, err := New(Config{Command: "x"})
		assert.Error(t, err)
		_, err = New(Config{Name: "x"})
		assert.Error(t, err)
	})

	t.Run("should start lazily", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		assert.Equal(t, StateNotStarted, b.State())
		assert.Equal(t, 0, b.PID())
	})
}

func TestBridge_Start(t *testing.T) {
	t.Run("should complete the handshake", func(t *testing.T) {
		logs := &syncBuffer{}
		b := newTestBridge(t, logs, nil)

		require.NoError(t, b.Start(context.Background()))
		assert.Equal(t, StateReady, b.State())
		assert.NotZero(t, b.PID())

		_, err := b.Call(context.Background(), "ping", nil, 0)
		require.NoError(t, err)

		waitFor(t, func() bool {
			return strings.Contains(logs.String(), "fake provider started")
		})
	})

	t.Run("should pass extra environment", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		raw, err := b.Call(context.Background(), "env", map[string]interface{}{"name": "FAKE_TARGET_URL"}, 0)
		require.NoError(t, err)

		var got struct {
			Value string `json:"value"`
		}
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "http://localhost:9222", got.Value)
	})

	t.Run("should fail when the handshake times out", func(t *testing.T) {
		b := newTestBridge(t, nil, func(c *Config) {
			c.Env["FAKE_PROVIDER_SILENT"] = "1"
			c.StartTimeout = 100 * time.Millisecond
		})

		err := b.Start(context.Background())
		require.Error(t, err)
		assert.True(t, errdefs.IsIPC(err))
		assert.Equal(t, StateDegraded, b.State())
	})

	t.Run("should finish a launch whose caller gave up", func(t *testing.T) {
		b := newTestBridge(t, nil, func(c *Config) {
			c.Env["FAKE_PROVIDER_INIT_DELAY"] = "300ms"
		})

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() {
			_, err := b.Call(ctx, "ping", nil, 0)
			errc <- err
		}()
		waitFor(t, func() bool { return b.State() == StateStarting })

		joined := make(chan error, 1)
		go func() {
			_, err := b.Call(context.Background(), "ping", nil, 0)
			joined <- err
		}()

		cancel()
		err := <-errc
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))

		require.NoError(t, <-joined)
		assert.Equal(t, StateReady, b.State())
		assert.Equal(t, 0, b.Restarts())
	})

	t.Run("should fail when the command does not exist", func(t *testing.T) {
		b := newTestBridge(t, nil, func(c *Config) {
			c.Command = "/nonexistent/minicode-provider"
		})

		_, err := b.Call(context.Background(), "ping", nil, 0)
		require.Error(t, err)
		assert.True(t, errdefs.IsIPC(err))
	})
}

func TestBridge_Correlation(t *testing.T) {
	t.Run("should route out of order responses by id", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		ctx := context.Background()

		// initialize took id 1, pings take 2..6
		for i := 0; i < 5; i++ {
			_, err := b.Call(ctx, "ping", nil, 0)
			require.NoError(t, err)
		}

		type holdResult struct {
			ID  uint64 `json:"id"`
			Tag string `json:"tag"`
		}
		results := make(map[string]holdResult)
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, tag := range []string{"A", "B"} {
			wg.Add(1)
			go func(tag string) {
				defer wg.Done()
				raw, err := b.Call(ctx, "hold", map[string]interface{}{"count": 2, "tag": tag}, 0)
				if !assert.NoError(t, err) {
					return
				}
				var r holdResult
				assert.NoError(t, json.Unmarshal(raw, &r))
				mu.Lock()
				results[tag] = r
				mu.Unlock()
			}(tag)
		}
		wg.Wait()

		require.Len(t, results, 2)
		assert.Equal(t, "A", results["A"].Tag)
		assert.Equal(t, "B", results["B"].Tag)
		ids := []uint64{results["A"].ID, results["B"].ID}
		assert.ElementsMatch(t, []uint64{7, 8}, ids)
	})

	t.Run("should drop malformed and unknown frames", func(t *testing.T) {
		logs := &syncBuffer{}
		b := newTestBridge(t, logs, nil)

		raw, err := b.Call(context.Background(), "noisy", nil, 0)
		require.NoError(t, err)
		assert.JSONEq(t, `{"tag":"real"}`, string(raw))

		out := logs.String()
		assert.Contains(t, out, `"reason":"malformed"`)
		assert.Contains(t, out, `"reason":"unknown_id"`)
		assert.Contains(t, out, `"reason":"empty"`)
		assert.Contains(t, out, "notifications/message")

		_, err = b.Call(context.Background(), "ping", nil, 0)
		assert.NoError(t, err)
	})

	t.Run("should accept a null result", func(t *testing.T) {
		logs := &syncBuffer{}
		b := newTestBridge(t, logs, nil)

		raw, err := b.Call(context.Background(), "null", nil, 0)
		require.NoError(t, err)
		assert.Equal(t, "null", string(raw))
		assert.NotContains(t, logs.String(), "Dropped bridge frame")
	})

	t.Run("should surface rpc errors", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)

		_, err := b.Call(context.Background(), "fail", nil, 0)
		require.Error(t, err)
		var rpcErr *RPCError
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, -32601, rpcErr.Code)
		assert.Equal(t, StateReady, b.State())
	})
}

func TestBridge_Timeout(t *testing.T) {
	t.Run("should time out one call without affecting others", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		require.NoError(t, b.Start(context.Background()))

		errc := make(chan error, 1)
		go func() {
			_, err := b.Call(context.Background(), "never", nil, 100*time.Millisecond)
			errc <- err
		}()

		_, err := b.Call(context.Background(), "ping", nil, 0)
		require.NoError(t, err)

		err = <-errc
		require.Error(t, err)
		assert.True(t, errdefs.IsTimeout(err))

		b.mu.Lock()
		p := b.proc
		b.mu.Unlock()
		require.NotNil(t, p)
		assert.Equal(t, 0, p.pendingCount())

		_, err = b.Call(context.Background(), "ping", nil, 0)
		assert.NoError(t, err)
		assert.Equal(t, StateReady, b.State())
	})

	t.Run("should stop waiting on cancellation", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		require.NoError(t, b.Start(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		_, err := b.Call(ctx, "never", nil, 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, StateReady, b.State())
	})

	t.Run("should time out a write the provider never drains", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		ctx := context.Background()
		require.NoError(t, b.Start(ctx))
		oldPID := b.PID()

		stalled := make(chan error, 1)
		go func() {
			_, err := b.Call(ctx, "stall", nil, 30*time.Second)
			stalled <- err
		}()
		b.mu.Lock()
		p := b.proc
		b.mu.Unlock()
		waitFor(t, func() bool { return p.pendingCount() == 1 })

		payload := strings.Repeat("x", 1<<20)
		start := time.Now()
		_, err := b.Call(ctx, "ping", map[string]interface{}{"payload": payload}, 200*time.Millisecond)
		require.Error(t, err)
		assert.True(t, errdefs.IsTimeout(err))
		assert.Less(t, time.Since(start), 3*time.Second)

		select {
		case err := <-stalled:
			require.Error(t, err)
			assert.True(t, errdefs.IsIPC(err))
		case <-time.After(5 * time.Second):
			t.Fatal("stalled call did not fail after the provider was killed")
		}
		waitFor(t, func() bool { return b.State() == StateDegraded })

		_, err = b.Call(ctx, "ping", nil, 0)
		require.NoError(t, err)
		assert.NotEqual(t, oldPID, b.PID())
	})

	t.Run("should classify a deadline hit while the provider starts", func(t *testing.T) {
		b := newTestBridge(t, nil, func(c *Config) {
			c.Env["FAKE_PROVIDER_INIT_DELAY"] = "500ms"
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := b.Call(ctx, "ping", nil, 0)
		require.Error(t, err)
		assert.True(t, errdefs.IsTimeout(err))
		assert.Equal(t, "timeout", callStatus(err))
	})
}

func TestBridge_ProcessExit(t *testing.T) {
	t.Run("should fail pending calls and restart when killed", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		ctx := context.Background()
		require.NoError(t, b.Start(ctx))
		oldPID := b.PID()

		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				_, err := b.Call(ctx, "never", nil, 30*time.Second)
				errs <- err
			}()
		}

		b.mu.Lock()
		p := b.proc
		b.mu.Unlock()
		waitFor(t, func() bool { return p.pendingCount() == 2 })

		proc, err := os.FindProcess(oldPID)
		require.NoError(t, err)
		require.NoError(t, proc.Kill())

		for i := 0; i < 2; i++ {
			select {
			case err := <-errs:
				require.Error(t, err)
				assert.True(t, errdefs.IsIPC(err))
			case <-time.After(5 * time.Second):
				t.Fatal("pending call did not fail after kill")
			}
		}
		waitFor(t, func() bool { return b.State() == StateDegraded })

		raw, err := b.Call(ctx, "hold", map[string]interface{}{"count": 1, "tag": "after"}, 0)
		require.NoError(t, err)
		assert.Equal(t, StateReady, b.State())
		assert.NotEqual(t, oldPID, b.PID())
		assert.Equal(t, 1, b.Restarts())

		var r struct {
			ID uint64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &r))
		// initialize, two calls, re-initialize: ids keep counting
		assert.Greater(t, r.ID, uint64(4))
	})

	t.Run("should restart with config defaults", func(t *testing.T) {
		bc := config.BridgeConfig{Name: "fake", Command: os.Args[0]}
		bc.ApplyBridgeDefaults()
		b := newTestBridge(t, nil, func(c *Config) {
			c.DisableRestart = bc.DisableRestart
			c.MaxRestarts = bc.MaxRestarts
			c.CallTimeout = bc.CallTimeout
		})
		ctx := context.Background()

		_, err := b.Call(ctx, "exit", nil, 0)
		require.Error(t, err)
		assert.True(t, errdefs.IsIPC(err))
		waitFor(t, func() bool { return b.State() == StateDegraded })

		_, err = b.Call(ctx, "ping", nil, 0)
		require.NoError(t, err)
		assert.Equal(t, StateReady, b.State())
		assert.Equal(t, 1, b.Restarts())
	})

	t.Run("should fail pending calls when a wrapper leaves a child behind", func(t *testing.T) {
		b := newTestBridge(t, nil, func(c *Config) {
			c.Env["FAKE_PROVIDER_WRAPPER"] = "1"
		})
		ctx := context.Background()
		require.NoError(t, b.Start(ctx))
		oldPID := b.PID()

		pending := make(chan error, 1)
		go func() {
			_, err := b.Call(ctx, "never", nil, 30*time.Second)
			pending <- err
		}()
		b.mu.Lock()
		p := b.proc
		b.mu.Unlock()
		waitFor(t, func() bool { return p.pendingCount() == 1 })

		start := time.Now()
		_, err := b.Call(ctx, "exit", nil, 30*time.Second)
		require.Error(t, err)
		assert.True(t, errdefs.IsIPC(err))

		select {
		case err := <-pending:
			require.Error(t, err)
			assert.True(t, errdefs.IsIPC(err))
		case <-time.After(5 * time.Second):
			t.Fatal("pending call did not fail after the provider exited")
		}
		assert.Less(t, time.Since(start), 5*time.Second)
		waitFor(t, func() bool { return b.State() == StateDegraded })

		_, err = b.Call(ctx, "ping", nil, 0)
		require.NoError(t, err)
		assert.NotEqual(t, oldPID, b.PID())
	})

	t.Run("should close promptly when a wrapper leaves a child behind", func(t *testing.T) {
		b := newTestBridge(t, nil, func(c *Config) {
			c.Env["FAKE_PROVIDER_WRAPPER"] = "1"
		})
		require.NoError(t, b.Start(context.Background()))

		start := time.Now()
		require.NoError(t, b.Close())
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should not restart when disabled", func(t *testing.T) {
		b := newTestBridge(t, nil, func(c *Config) {
			c.DisableRestart = true
		})

		_, err := b.Call(context.Background(), "exit", nil, 0)
		require.Error(t, err)
		assert.True(t, errdefs.IsIPC(err))
		waitFor(t, func() bool { return b.State() == StateDegraded })

		_, err = b.Call(context.Background(), "ping", nil, 0)
		require.Error(t, err)
		assert.True(t, errdefs.IsIPC(err))
		assert.Contains(t, err.Error(), "restarts are disabled")
	})

	t.Run("should stop after max restarts", func(t *testing.T) {
		b := newTestBridge(t, nil, func(c *Config) {
			c.MaxRestarts = 1
		})
		ctx := context.Background()

		_, err := b.Call(ctx, "exit", nil, 0)
		require.Error(t, err)
		waitFor(t, func() bool { return b.State() == StateDegraded })

		_, err = b.Call(ctx, "ping", nil, 0)
		require.NoError(t, err)

		_, err = b.Call(ctx, "exit", nil, 0)
		require.Error(t, err)
		waitFor(t, func() bool { return b.State() == StateDegraded })

		_, err = b.Call(ctx, "ping", nil, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "restarts are exhausted")
	})
}

func TestBridge_Close(t *testing.T) {
	b := newTestBridge(t, nil, nil)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.Close())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.PID())

	_, err := b.Call(context.Background(), "ping", nil, 0)
	require.Error(t, err)
	assert.True(t, errdefs.IsIPC(err))

	assert.NoError(t, b.Close())
}

func TestBridge_Tools(t *testing.T) {
	t.Run("should list every page", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		tools, err := b.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, tools, 3)
		assert.Equal(t, "echo", tools[0].Name)
		assert.Equal(t, "read_file", tools[1].Name)
	})

	t.Run("should join text content", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		ctx := context.Background()

		out, err := b.CallTool(ctx, "echo", map[string]interface{}{"text": "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hi\ndone", out)

		out, err = b.CallTool(ctx, "read_file", nil)
		require.NoError(t, err)
		assert.Equal(t, "Operation completed", out)

		_, err = b.CallTool(ctx, "missing", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such tool")
	})

	t.Run("should register remote tools with prefixes on conflict", func(t *testing.T) {
		b := newTestBridge(t, nil, nil)
		reg := toolexecutor.New(zerolog.Nop())
		require.NoError(t, reg.Register(toolexecutor.ToolSpec{
			Name:        "read_file",
			Description: "local read",
			Category:    toolexecutor.CategoryRead,
			Handler: toolexecutor.Local(func(ctx context.Context, args map[string]interface{}) (string, error) {
				return "local", nil
			}),
		}))

		names, err := b.RegisterTools(context.Background(), reg, RegisterOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"echo", "fake_read_file"}, names)
		reg.Seal()

		spec, ok := reg.Get("fake_read_file")
		require.True(t, ok)
		assert.Equal(t, toolexecutor.CategoryRemote, spec.Category)
		assert.Equal(t, toolexecutor.HandlerRemote, spec.Handler.Kind())
		assert.Equal(t, "read_file", spec.Handler.RemoteName())

		res := reg.Dispatch(context.Background(), "echo", map[string]interface{}{"text": "via registry"})
		assert.False(t, res.IsError)
		assert.Equal(t, "via registry\ndone", res.Content)

		res = reg.Dispatch(context.Background(), "echo", map[string]interface{}{})
		assert.True(t, res.IsError)
	})
}
