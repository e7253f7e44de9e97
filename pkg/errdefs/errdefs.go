// Package errdefs defines the error taxonomy shared by the loop, the registry,
// the bridge and the subagent spawner.
//
// Every error raised by those packages carries one of four codes. Callers
// classify with the Is* predicates or errors.Is against the sentinels.
package errdefs

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies an error class.
type Code string

const (
	CodeUnknown    Code = "UNKNOWN"
	CodeValidation Code = "VALIDATION"
	CodeIPC        Code = "IPC"
	CodeTimeout    Code = "TIMEOUT"
	CodeFatal      Code = "FATAL"
)

// Recovery describes where an error class is handled.
type Recovery string

const (
	// RecoveryLocal errors are turned into an is_error tool result.
	RecoveryLocal Recovery = "local"
	// RecoveryRestart errors are recovered by restarting the bridge process on next use.
	RecoveryRestart Recovery = "restart"
	// RecoveryTerminal errors end the run.
	RecoveryTerminal Recovery = "terminal"
)

// Attributes holds the registered defaults for a code.
type Attributes struct {
	Message   string
	Retryable bool
	Recovery  Recovery
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:    {Message: "unknown error", Recovery: RecoveryTerminal},
		CodeValidation: {Message: "validation failed", Recovery: RecoveryLocal},
		CodeIPC:        {Message: "bridge communication failed", Retryable: true, Recovery: RecoveryRestart},
		CodeTimeout:    {Message: "deadline exceeded", Recovery: RecoveryLocal},
		CodeFatal:      {Message: "unrecoverable failure", Recovery: RecoveryTerminal},
	}
)

// Register adds or overrides the attributes of a code.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes of code, falling back to CodeUnknown.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the typed error carried across package boundaries.
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option configures an Error.
type Option func(*Error)

// WithMetadata attaches a key/value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New creates an Error. An empty message uses the registered default.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap creates an Error around cause.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Validationf returns a VALIDATION error with a formatted message.
func Validationf(format string, args ...interface{}) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

// IPCf returns an IPC error with a formatted message.
func IPCf(format string, args ...interface{}) *Error {
	return New(CodeIPC, fmt.Sprintf(format, args...))
}

// Timeoutf returns a TIMEOUT error with a formatted message.
func Timeoutf(format string, args ...interface{}) *Error {
	return New(CodeTimeout, fmt.Sprintf(format, args...))
}

// Fatalf returns a FATAL error with a formatted message.
func Fatalf(format string, args ...interface{}) *Error {
	return New(CodeFatal, fmt.Sprintf(format, args...))
}

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrValidation = New(CodeValidation, "")
	ErrIPC        = New(CodeIPC, "")
	ErrTimeout    = New(CodeTimeout, "")
	ErrFatal      = New(CodeFatal, "")
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the message without code or cause.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// From extracts the outermost *Error in err's chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeUnknown.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// Retryable reports whether err's code is registered as retryable.
func Retryable(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Retryable
	}
	return false
}

func IsValidation(err error) bool { return stdErrors.Is(err, ErrValidation) }
func IsIPC(err error) bool        { return stdErrors.Is(err, ErrIPC) }
func IsTimeout(err error) bool    { return stdErrors.Is(err, ErrTimeout) }
func IsFatal(err error) bool      { return stdErrors.Is(err, ErrFatal) }
