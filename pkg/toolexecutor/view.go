package toolexecutor

import (
	"context"
	"time"

	"github.com/harun/minicode/pkg/errdefs"
)

// View is the role-bound tool set a loop consumes. It is snapshotted at
// creation, so a sealed registry yields a stable view.
type View struct {
	registry *Registry
	role     Role
	specs    []ToolSpec
	visible  map[string]bool
}

// View returns the tool set visible to role
func (r *Registry) View(role Role) *View {
	specs := r.Visible(role)
	visible := make(map[string]bool, len(specs))
	for _, s := range specs {
		visible[s.Name] = true
	}
	return &View{registry: r, role: role, specs: specs, visible: visible}
}

// Role returns the role the view is bound to
func (v *View) Role() Role {
	return v.role
}

// Specs returns the visible specs sorted by name
func (v *View) Specs() []ToolSpec {
	out := make([]ToolSpec, len(v.specs))
	copy(out, v.specs)
	return out
}

// Names returns the visible tool names sorted
func (v *View) Names() []string {
	names := make([]string, len(v.specs))
	for i, s := range v.specs {
		names[i] = s.Name
	}
	return names
}

// Dispatch runs name if the role may see it. Tools outside the view are
// reported as unknown so hidden tools stay hidden.
func (v *View) Dispatch(ctx context.Context, name string, args map[string]interface{}) Result {
	if !v.visible[name] {
		err := errdefs.Validationf("unknown tool: %s", name)
		if v.registry.Has(name) {
			err = errdefs.Validationf("unknown tool: %s (not available to %s agents)", name, v.role)
		}
		return Result{
			Content:  errorContent(err),
			IsError:  true,
			Err:      err,
			Duration: time.Duration(0),
		}
	}
	info, ok := CallInfoFromContext(ctx)
	if !ok || info.Role == "" {
		info.Role = v.role
		info.ToolName = name
		ctx = ContextWithCallInfo(ctx, info)
	}
	return v.registry.Dispatch(ctx, name, args)
}
