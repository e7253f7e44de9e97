package toolexecutor

import (
	"context"
	"fmt"
)

// HandlerKind tags how a tool is executed
type HandlerKind int

const (
	HandlerInvalid HandlerKind = iota
	HandlerLocal
	HandlerRemote
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerLocal:
		return "local"
	case HandlerRemote:
		return "remote"
	default:
		return "invalid"
	}
}

// LocalFunc runs a tool in-process. It must honor ctx.
type LocalFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// RemoteCaller executes a named tool out of process
type RemoteCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// Handler is a closed variant: exactly one of Local or Remote is set.
type Handler struct {
	kind       HandlerKind
	local      LocalFunc
	remote     RemoteCaller
	remoteName string
}

// Local wraps an in-process function
func Local(fn LocalFunc) Handler {
	return Handler{kind: HandlerLocal, local: fn}
}

// Remote routes calls to caller under the provider-side tool name
func Remote(caller RemoteCaller, name string) Handler {
	return Handler{kind: HandlerRemote, remote: caller, remoteName: name}
}

// Kind returns the handler variant
func (h Handler) Kind() HandlerKind {
	return h.kind
}

// RemoteName returns the provider-side name of a remote tool
func (h Handler) RemoteName() string {
	return h.remoteName
}

func (h Handler) validate() error {
	switch h.kind {
	case HandlerLocal:
		if h.local == nil {
			return fmt.Errorf("local handler function cannot be nil")
		}
	case HandlerRemote:
		if h.remote == nil {
			return fmt.Errorf("remote caller cannot be nil")
		}
		if h.remoteName == "" {
			return fmt.Errorf("remote tool name cannot be empty")
		}
	default:
		return fmt.Errorf("handler variant must be local or remote")
	}
	return nil
}

func (h Handler) invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	if h.kind == HandlerRemote {
		return h.remote.CallTool(ctx, h.remoteName, args)
	}
	return h.local(ctx, args)
}

// ToolSpec describes one tool exposed to the model
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Category    ToolCategory           `json:"category"`
	// AllowedRoles further restricts visibility; empty means every role whose
	// profile admits Category.
	AllowedRoles []Role  `json:"allowed_roles,omitempty"`
	Handler      Handler `json:"-"`
}

// ObjectSchema builds an object schema from property definitions.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Properties returns the schema's properties, or an empty map
func (s ToolSpec) Properties() map[string]interface{} {
	if props, ok := s.InputSchema["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

// Required returns the schema's required property names
func (s ToolSpec) Required() []string {
	switch req := s.InputSchema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if name, ok := r.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

func (s ToolSpec) allowsRole(role Role) bool {
	if len(s.AllowedRoles) == 0 {
		return true
	}
	for _, r := range s.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}
