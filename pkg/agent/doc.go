// Package agent runs the tool-use loop between a model and a role-bound tool set.
//
// Invariants:
//   - A round's tool results are appended together, in tool call order.
//   - Tool failures become is_error results. Only budgets, duplicate call ids,
//     model errors and cancellation end a run.
//   - Each run carries a run id in its context.
//
// Usage:
//
//	loop, _ := agent.NewLoop(agent.Config{
//		Provider: provider,
//		Tools:    registry.View(toolexecutor.RoleMain),
//		Model:    "claude-sonnet-4-20250514",
//	})
//	result, err := loop.Run(ctx, agent.NewConversation("list the files"))
package agent
