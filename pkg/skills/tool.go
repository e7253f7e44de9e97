package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/minicode/pkg/errdefs"
	"github.com/harun/minicode/pkg/toolexecutor"
)

// ToolName is the name the model calls
const ToolName = "Skill"

// ToolSpec returns the Skill tool. Its description lists the skills loaded
// when it is built; the handler always reads the current set.
func ToolSpec(loader *Loader) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name: ToolName,
		Description: fmt.Sprintf(`Load a skill to gain specialized knowledge for a task.

Available skills:
%s

When to use:
- IMMEDIATELY when user task matches a skill description
- Before attempting domain-specific work (PDF, MCP, etc.)

The skill content will be injected into the conversation, giving you
detailed instructions and access to resources.`, loader.Descriptions()),
		InputSchema: toolexecutor.ObjectSchema(map[string]interface{}{
			"skill": map[string]interface{}{
				"type":        "string",
				"description": "Name of the skill to load",
			},
		}, "skill"),
		Category: toolexecutor.CategoryKnowledge,
		Handler: toolexecutor.Local(func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, _ := args["skill"].(string)
			return Run(loader, name)
		}),
	}
}

// Run renders the tool result for loading name
func Run(loader *Loader, name string) (string, error) {
	content, ok := loader.Content(name)
	if !ok {
		available := strings.Join(loader.Names(), ", ")
		if available == "" {
			available = "none"
		}
		return "", errdefs.Validationf("Unknown skill '%s'. Available: %s", name, available)
	}
	return fmt.Sprintf("<skill-loaded name=\"%s\">\n%s\n</skill-loaded>\n\nFollow the instructions in the skill above to complete the user's task.", name, content), nil
}
