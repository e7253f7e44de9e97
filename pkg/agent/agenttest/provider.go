// Package agenttest provides a scripted LLMProvider for tests.
package agenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/minicode/pkg/agent"
)

// Step produces one model response
type Step func(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error)

// Provider replays steps in order. Once they run out it uses Fallback, or
// fails when none is set.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	Fallback Step
	requests []agent.LLMRequest
}

// New creates a provider replaying steps
func New(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// Provider returns the provider name
func (p *Provider) Provider() string {
	return "scripted"
}

// Call records req and runs the next step
func (p *Provider) Call(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	var step Step
	if n < len(p.steps) {
		step = p.steps[n]
	} else {
		step = p.Fallback
	}
	p.mu.Unlock()

	if step == nil {
		return nil, fmt.Errorf("script exhausted after %d calls", n)
	}
	return step(ctx, req)
}

// Requests returns every request seen so far
func (p *Provider) Requests() []agent.LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]agent.LLMRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns the number of Call invocations
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Text ends the turn with text
func Text(text string) Step {
	return func(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
		return &agent.LLMResponse{Content: text, StopReason: agent.StopEndTurn}, nil
	}
}

// Tools proposes tool calls
func Tools(calls ...agent.ToolCall) Step {
	return func(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
		return &agent.LLMResponse{ToolCalls: calls, StopReason: agent.StopToolUse}, nil
	}
}

// Call builds a tool call
func Call(id, name string, args map[string]interface{}) agent.ToolCall {
	if args == nil {
		args = map[string]interface{}{}
	}
	return agent.ToolCall{ID: id, Name: name, Arguments: args}
}

// MaxTokens returns text cut off by the output limit
func MaxTokens(text string) Step {
	return func(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
		return &agent.LLMResponse{Content: text, StopReason: agent.StopMaxTokens}, nil
	}
}

// Fail returns err
func Fail(err error) Step {
	return func(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
		return nil, err
	}
}

// Block waits for ctx to end
func Block() Step {
	return func(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// LastToolResults returns the results of the most recent round in req
func LastToolResults(req agent.LLMRequest) []agent.ToolResult {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == agent.RoleToolResult {
			return req.Messages[i].ToolResults
		}
	}
	return nil
}
