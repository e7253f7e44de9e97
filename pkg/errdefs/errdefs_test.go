package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should use registered message when empty", func(t *testing.T) {
		err := New(CodeIPC, "")
		assert.Equal(t, "[IPC] bridge communication failed", err.Error())
	})

	t.Run("should include cause in message", func(t *testing.T) {
		err := Wrap(CodeTimeout, context.DeadlineExceeded, "call timed out")
		assert.Equal(t, "[TIMEOUT] call timed out: context deadline exceeded", err.Error())
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("should attach metadata", func(t *testing.T) {
		err := New(CodeValidation, "bad", WithMetadata("tool", "bash"))
		assert.Equal(t, map[string]string{"tool": "bash"}, err.Metadata())
	})
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
		code Code
	}{
		{"validation", Validationf("field %s", "x"), IsValidation, CodeValidation},
		{"ipc", IPCf("process exited"), IsIPC, CodeIPC},
		{"timeout", Timeoutf("after %d rounds", 3), IsTimeout, CodeTimeout},
		{"fatal", Fatalf("truncated"), IsFatal, CodeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.is(wrapped))
			assert.Equal(t, tt.code, CodeOf(wrapped))
		})
	}

	t.Run("should not match other codes", func(t *testing.T) {
		err := IPCf("boom")
		assert.False(t, IsValidation(err))
		assert.False(t, IsFatal(err))
	})

	t.Run("should report unknown for plain errors", func(t *testing.T) {
		assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
		_, ok := From(nil)
		assert.False(t, ok)
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(IPCf("pipe closed")))
	assert.False(t, Retryable(Fatalf("done")))

	Register(Code("CUSTOM"), Attributes{Message: "custom", Retryable: true})
	err := New(Code("CUSTOM"), "")
	require.Equal(t, "[CUSTOM] custom", err.Error())
	assert.True(t, Retryable(err))
}
