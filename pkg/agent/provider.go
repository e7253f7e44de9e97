package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/minicode/pkg/toolexecutor"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []toolexecutor.ToolSpec
	Temperature  float64
	MaxTokens    int
}

// LLMResponse is one assistant message
type LLMResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      TokenUsage
}

// ProviderConfig selects and authenticates a provider
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider
func (f *ProviderFactory) NewProvider(cfg ProviderConfig) (LLMProvider, error) {
	switch cfg.Name {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}

// parseToolCall decodes raw JSON arguments. A decode failure is kept on the
// call so the loop can answer it with an is_error result.
func parseToolCall(id, name, raw string) ToolCall {
	call := ToolCall{ID: id, Name: name}
	if raw == "" {
		raw = "{}"
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		call.argErr = fmt.Errorf("failed to parse tool arguments: %w", err)
		return call
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	call.Arguments = args
	return call
}
