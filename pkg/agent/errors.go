package agent

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/minicode/pkg/errdefs"
	"github.com/openai/openai-go"
)

// RunError ends a run. It carries the partial conversation for diagnostics
// and unwraps to a TIMEOUT or FATAL errdefs error.
type RunError struct {
	Err          error
	Conversation *Conversation
	Rounds       int
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Partial returns the conversation as it stood when the run ended
func (e *RunError) Partial() *Conversation {
	return e.Conversation
}

// IsRetryableError reports whether a provider error is transient:
// rate limits, server errors, connection resets and timeouts.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errdefs.Retryable(err) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "rate limit", "overloaded"} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}

	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
