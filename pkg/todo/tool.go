package todo

import (
	"context"
	"encoding/json"

	"github.com/harun/minicode/internal/tracing"
	"github.com/harun/minicode/pkg/errdefs"
	"github.com/harun/minicode/pkg/toolexecutor"
)

// ToolName is the name the model calls
const ToolName = "TodoWrite"

const toolDescription = `Update the task list. Use to plan and track progress on multi-step work.
Send the complete list every time; it replaces the previous one.
At most 20 items, and only one may be in_progress.`

// Spec returns the TodoWrite tool bound to store. The list is chosen by the
// run id carried in the call context.
func Spec(store *Store) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name:        ToolName,
		Description: toolDescription,
		InputSchema: toolexecutor.ObjectSchema(map[string]interface{}{
			"items": map[string]interface{}{
				"type":        "array",
				"description": "Complete list of tasks (replaces existing)",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Task description",
						},
						"status": map[string]interface{}{
							"type":        "string",
							"enum":        []string{string(StatusPending), string(StatusInProgress), string(StatusCompleted)},
							"description": "Task status",
						},
						"activeForm": map[string]interface{}{
							"type":        "string",
							"description": "Present tense action, e.g. 'Reading files'",
						},
					},
					"required": []string{"content", "status", "activeForm"},
				},
			},
		}, "items"),
		Category: toolexecutor.CategoryPlan,
		Handler: toolexecutor.Local(func(ctx context.Context, args map[string]interface{}) (string, error) {
			items, err := decodeItems(args["items"])
			if err != nil {
				return "", err
			}
			return store.For(tracing.GetRunID(ctx)).Update(items)
		}),
	}
}

func decodeItems(raw interface{}) ([]Item, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidation, err, "invalid todo items")
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeValidation, err, "invalid todo items")
	}
	return items, nil
}
