package toolexecutor

import "context"

type callInfoKey struct{}

// CallInfo identifies the tool call a handler is serving
type CallInfo struct {
	ToolCallID string
	ToolName   string
	Role       Role
}

// ContextWithCallInfo attaches call information for tool handlers.
func ContextWithCallInfo(ctx context.Context, info CallInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext extracts call information from a context.Context.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	if ctx == nil {
		return CallInfo{}, false
	}
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
