package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/minicode/pkg/errdefs"
	"github.com/harun/minicode/pkg/toolexecutor"
)

// emptyResultText is returned for a successful call without text content
const emptyResultText = "Operation completed"

// ListTools fetches every tool the provider advertises, following pagination
func (b *Bridge) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	cursor := ""
	for {
		var params interface{}
		if cursor != "" {
			params = map[string]interface{}{"cursor": cursor}
		}

		raw, err := b.Call(ctx, "tools/list", params, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}

		var page listToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeIPC, err, "invalid tools/list result")
		}
		tools = append(tools, page.Tools...)

		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool runs a provider tool and returns its text content. A result
// flagged isError is returned as an error carrying the text.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	raw, err := b.Call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	}, 0)
	if err != nil {
		return "", err
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", errdefs.Wrap(errdefs.CodeIPC, err, "invalid tools/call result")
	}

	text := result.text()
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%s: %s", name, text)
	}
	if text == "" {
		return emptyResultText, nil
	}
	return text, nil
}

func (r callToolResult) text() string {
	parts := make([]string, 0, len(r.Content))
	for _, item := range r.Content {
		switch item.Type {
		case "text", "":
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		default:
			parts = append(parts, fmt.Sprintf("[%s content: %s]", item.Type, item.MimeType))
		}
	}
	return strings.Join(parts, "\n")
}

// RegisterOptions controls how discovered tools enter the registry
type RegisterOptions struct {
	Category toolexecutor.ToolCategory
	Roles    []toolexecutor.Role
}

// RegisterTools registers every provider tool as a remote tool. A name that
// is already taken gets the bridge name as prefix. Tools whose schema the
// registry rejects are skipped.
func (b *Bridge) RegisterTools(ctx context.Context, reg *toolexecutor.Registry, opts RegisterOptions) ([]string, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Category == "" {
		opts.Category = toolexecutor.CategoryRemote
	}

	tools, err := b.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	registered := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}

		name := tool.Name
		if reg.Has(name) {
			name = fmt.Sprintf("%s_%s", b.cfg.Name, tool.Name)
		}

		description := tool.Description
		if strings.TrimSpace(description) == "" {
			description = fmt.Sprintf("%s tool from %s", tool.Name, b.cfg.Name)
		}

		schema := tool.InputSchema
		if schema == nil {
			schema = toolexecutor.ObjectSchema(map[string]interface{}{})
		}

		spec := toolexecutor.ToolSpec{
			Name:         name,
			Description:  description,
			InputSchema:  schema,
			Category:     opts.Category,
			AllowedRoles: opts.Roles,
			Handler:      toolexecutor.Remote(b, tool.Name),
		}
		if err := reg.Register(spec); err != nil {
			if errdefs.IsValidation(err) {
				b.logger.Warn().Str("tool", tool.Name).Err(err).Msg("Skipping remote tool")
				continue
			}
			return registered, fmt.Errorf("failed to register remote tool %s: %w", name, err)
		}
		registered = append(registered, name)
	}

	b.logger.Info().Int("tools", len(registered)).Msg("Registered remote tools")
	return registered, nil
}
