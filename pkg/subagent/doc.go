// Package subagent runs delegated tasks in nested agent loops.
//
// A Spawner gives each subagent a fresh conversation holding only the task
// text and the tool view of its role. Only the final summary reaches the
// caller, as the result of the Task tool call. Nesting depth travels in the
// context and is bounded by Config.MaxDepth.
package subagent
