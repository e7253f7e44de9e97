package subagent

import "context"

type depthKey struct{}

// WithDepth records the nesting depth of the run served by ctx.
// The top-level agent runs at depth 0.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DepthFromContext returns the nesting depth carried by ctx
func DepthFromContext(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	depth, _ := ctx.Value(depthKey{}).(int)
	return depth
}
