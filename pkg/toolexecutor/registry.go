package toolexecutor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/minicode/internal/observability"
	"github.com/harun/minicode/internal/tracing"
	"github.com/harun/minicode/pkg/errdefs"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "minicode/toolexecutor"

// Result is the outcome of one dispatch
type Result struct {
	Content  string
	IsError  bool
	Err      error
	Duration time.Duration
}

type entry struct {
	spec   ToolSpec
	schema *gojsonschema.Schema
}

// Registry maps tool names to specs and handlers
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	sealed bool
	logger zerolog.Logger
}

// New creates an empty registry
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With().Str("component", "toolexecutor").Logger(),
	}
}

// Register validates spec, compiles its schema and adds it.
func (r *Registry) Register(spec ToolSpec) error {
	if err := validateSpec(spec); err != nil {
		return errdefs.Wrap(errdefs.CodeValidation, err, fmt.Sprintf("invalid tool %q", spec.Name))
	}

	schema, err := compileSchema(spec.InputSchema)
	if err != nil {
		return errdefs.Wrap(errdefs.CodeValidation, err, fmt.Sprintf("invalid schema for tool %q", spec.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errdefs.Validationf("registry is sealed, cannot register %q", spec.Name)
	}
	if _, exists := r.tools[spec.Name]; exists {
		return errdefs.Validationf("tool %q already registered", spec.Name)
	}

	r.tools[spec.Name] = &entry{spec: spec, schema: schema}

	r.logger.Debug().
		Str("tool", spec.Name).
		Str("category", string(spec.Category)).
		Str("handler", spec.Handler.Kind().String()).
		Msg("Tool registered")

	return nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Seal freezes the registry. Later Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	r.logger.Debug().Int("tools", len(r.tools)).Msg("Registry sealed")
}

// Sealed reports whether Seal was called
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the spec registered under name
func (r *Registry) Get(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return ToolSpec{}, false
	}
	return e.spec, true
}

// Visible returns the specs a role may see, sorted by name.
func (r *Registry) Visible(role Role) []ToolSpec {
	profile, ok := Profile(role)
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.tools))
	for _, e := range r.tools {
		if profile.Admits(e.spec.Category) && e.spec.allowsRole(role) {
			specs = append(specs, e.spec)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Dispatch validates args and runs the named tool. It never panics and
// never returns a Go error: failures are is_error Results.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) Result {
	start := time.Now()

	r.mu.RLock()
	e := r.tools[name]
	r.mu.RUnlock()

	if e == nil {
		return r.finish(ctx, name, start, "", errdefs.Validationf("unknown tool: %s", name))
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArgs(e.schema, args); err != nil {
		return r.finish(ctx, name, start, "", err)
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "tool.dispatch",
		attribute.String("tool.name", name),
		attribute.String("tool.handler", e.spec.Handler.Kind().String()),
	)
	content, err := invokeSafely(ctx, e.spec.Handler, args)
	tracing.EndSpan(span, err)

	return r.finish(ctx, name, start, content, err)
}

func (r *Registry) finish(ctx context.Context, name string, start time.Time, content string, err error) Result {
	duration := time.Since(start)
	observability.RecordToolDispatch(name, duration, err == nil)

	logger := tracing.LoggerFromContext(ctx, r.logger)
	if err != nil {
		logger.Debug().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool dispatch failed")
		return Result{
			Content:  errorContent(err),
			IsError:  true,
			Err:      err,
			Duration: duration,
		}
	}

	logger.Debug().Str("tool", name).Dur("duration", duration).Int("bytes", len(content)).Msg("Tool dispatch completed")
	return Result{Content: content, Duration: duration}
}

func invokeSafely(ctx context.Context, h Handler, args map[string]interface{}) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v\n%s", rec, firstFrames(debug.Stack(), 8))
		}
	}()
	return h.invoke(ctx, args)
}

func firstFrames(stack []byte, n int) string {
	lines := strings.Split(string(stack), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func errorContent(err error) string {
	if e, ok := err.(*errdefs.Error); ok && e.Unwrap() == nil {
		return "Error: " + e.Message()
	}
	return "Error: " + err.Error()
}

func validateSpec(spec ToolSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if strings.TrimSpace(spec.Description) == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if !IsValidCategory(string(spec.Category)) {
		return fmt.Errorf("invalid category: %q", spec.Category)
	}
	for _, role := range spec.AllowedRoles {
		if _, ok := Profile(role); !ok {
			return fmt.Errorf("unknown role %q in allowed roles", role)
		}
	}
	return spec.Handler.validate()
}

func compileSchema(schema map[string]interface{}) (*gojsonschema.Schema, error) {
	if schema == nil {
		schema = ObjectSchema(map[string]interface{}{})
	}
	if t, ok := schema["type"]; ok && t != "object" {
		return nil, fmt.Errorf("input schema type must be object, got %v", t)
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return errdefs.Wrap(errdefs.CodeValidation, err, "invalid arguments")
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errdefs.Validationf("invalid arguments: %s", strings.Join(msgs, "; "))
	}

	return nil
}
