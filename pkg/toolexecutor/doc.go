// Package toolexecutor registers tools and dispatches calls to them.
//
// Invariants:
// - Tool names are unique and the registry is immutable once sealed.
// - Arguments are schema-validated before a handler runs.
// - Visible(role) is deterministic and sorted by name.
// - Handler errors and panics become is_error Results, never panics of the caller.
//
// Usage:
//
//	reg := toolexecutor.New(logger)
//	_ = reg.Register(toolexecutor.ToolSpec{
//		Name:        "echo",
//		Description: "Echo input",
//		InputSchema: toolexecutor.ObjectSchema(map[string]interface{}{"text": map[string]interface{}{"type": "string"}}, "text"),
//		Category:    toolexecutor.CategoryRead,
//		Handler: toolexecutor.Local(func(ctx context.Context, args map[string]interface{}) (string, error) {
//			return args["text"].(string), nil
//		}),
//	})
//	reg.Seal()
//	res := reg.View(toolexecutor.RoleExplore).Dispatch(ctx, "echo", map[string]interface{}{"text": "hi"})
package toolexecutor
