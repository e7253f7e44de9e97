package agent

import (
	"encoding/json"
)

// MessageRole identifies the author of a message
type MessageRole string

const (
	RoleUser       MessageRole = "user"
	RoleAssistant  MessageRole = "assistant"
	RoleToolResult MessageRole = "tool"
)

// StopReason is why the model stopped generating
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ToolCall represents a tool invocation proposed by the model
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`

	// argErr is set by providers when the model emitted unparseable arguments
	argErr error
}

// ToolResult answers exactly one ToolCall
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one entry of a conversation. Tool-result messages carry every
// result of a round in ToolCall order.
type Message struct {
	Role        MessageRole  `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Conversation is an append-only message history owned by one loop run
type Conversation struct {
	messages []Message
}

// NewConversation starts a conversation with a user prompt
func NewConversation(prompt string) *Conversation {
	c := &Conversation{}
	if prompt != "" {
		c.AppendUser(prompt)
	}
	return c
}

// AppendUser appends a user text message
func (c *Conversation) AppendUser(text string) {
	c.messages = append(c.messages, Message{Role: RoleUser, Content: text})
}

// AppendAssistant appends a model message
func (c *Conversation) AppendAssistant(text string, calls []ToolCall) {
	msg := Message{Role: RoleAssistant, Content: text}
	if len(calls) > 0 {
		msg.ToolCalls = append([]ToolCall(nil), calls...)
	}
	c.messages = append(c.messages, msg)
}

// AppendToolResults appends the results of one round as a single message
func (c *Conversation) AppendToolResults(results []ToolResult) {
	c.messages = append(c.messages, Message{
		Role:        RoleToolResult,
		ToolResults: append([]ToolResult(nil), results...),
	})
}

// Messages returns a copy of the history
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the most recent message
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Clone returns an independent copy
func (c *Conversation) Clone() *Conversation {
	return &Conversation{messages: c.Messages()}
}

// MarshalJSON renders the history for diagnostics
func (c *Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.messages)
}

// chars counts the characters the model will read, used for token estimation
func (m Message) chars() int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		data, _ := json.Marshal(tc.Arguments)
		n += len(data)
	}
	for _, tr := range m.ToolResults {
		n += len(tr.Content)
	}
	return n
}
