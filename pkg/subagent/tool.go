package subagent

import (
	"context"
	"fmt"

	"github.com/harun/minicode/pkg/errdefs"
	"github.com/harun/minicode/pkg/toolexecutor"
)

// ToolName is the name the model calls
const ToolName = "Task"

// ToolSpec returns the Task tool, which delegates to s.Spawn
func (s *Spawner) ToolSpec() toolexecutor.ToolSpec {
	roles := toolexecutor.SpawnableRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}

	return toolexecutor.ToolSpec{
		Name:        ToolName,
		Description: taskDescription(),
		InputSchema: toolexecutor.ObjectSchema(map[string]interface{}{
			"role": map[string]interface{}{
				"type":        "string",
				"enum":        names,
				"description": "Type of agent to spawn",
			},
			"task_description": map[string]interface{}{
				"type":        "string",
				"description": "Detailed instructions for the subagent",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short task name (3-5 words) for progress display",
			},
		}, "role", "task_description"),
		Category: toolexecutor.CategoryAgent,
		Handler:  toolexecutor.Local(s.handle),
	}
}

func (s *Spawner) handle(ctx context.Context, args map[string]interface{}) (string, error) {
	roleName, _ := args["role"].(string)
	role, err := toolexecutor.ParseRole(roleName)
	if err != nil {
		return "", errdefs.Wrap(errdefs.CodeValidation, err, "invalid role")
	}
	task, _ := args["task_description"].(string)
	label, _ := args["label"].(string)

	return s.Spawn(ctx, SpawnRequest{
		Role:            role,
		TaskDescription: task,
		Label:           label,
	})
}

func taskDescription() string {
	return fmt.Sprintf(`Spawn a subagent for a focused subtask.

Subagents run in ISOLATED context - they don't see parent's history.
Use this to keep the main conversation clean.

Agent types:
%s

Example uses:
- Task(explore): "Find all files using the auth module"
- Task(plan): "Design a migration strategy for the database"
- Task(code): "Implement the user registration form"`, toolexecutor.Describe())
}
