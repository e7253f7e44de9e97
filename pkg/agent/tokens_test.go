package agent

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestMaxTokensFor(t *testing.T) {
	tests := []struct {
		name          string
		contextTokens int
		maxConfigured int
		want          int
	}{
		{"small context", 1000, 160000, 79600},
		{"nearly full context", 198000, 160000, 4000},
		{"overflowing context", 250000, 160000, 4000},
		{"capped by configured max", 1000, 8000, 8000},
		{"mid context", 50000, 100000, 60000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxTokensFor(tt.contextTokens, tt.maxConfigured))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	conv := NewConversation(strings.Repeat("a", 400))
	conv.AppendAssistant("", []ToolCall{{ID: "1", Name: "bash", Arguments: map[string]interface{}{"command": "ls"}}})
	conv.AppendToolResults([]ToolResult{{ToolCallID: "1", Content: strings.Repeat("b", 40)}})

	// 400/4 + len(`{"command":"ls"}`)/4 + 40/4
	assert.Equal(t, 100+4+10, EstimateTokens(conv.Messages()))
}

func TestTruncateOutput(t *testing.T) {
	t.Run("should keep short output", func(t *testing.T) {
		out, cut := TruncateOutput("hello", 10)
		assert.False(t, cut)
		assert.Equal(t, "hello", out)
	})

	t.Run("should cut ascii at the limit", func(t *testing.T) {
		out, cut := TruncateOutput(strings.Repeat("x", 20), 10)
		assert.True(t, cut)
		assert.Equal(t, strings.Repeat("x", 10)+TruncationMarker, out)
	})

	t.Run("should not split a multi-byte rune", func(t *testing.T) {
		s := strings.Repeat("日", 10) // 3 bytes each
		out, cut := TruncateOutput(s, 10)
		assert.True(t, cut)
		body := strings.TrimSuffix(out, TruncationMarker)
		assert.True(t, utf8.ValidString(body))
		assert.Equal(t, 9, len(body))
	})

	t.Run("should truncate 200KB to the limit", func(t *testing.T) {
		s := strings.Repeat("é", 100000)
		out, cut := TruncateOutput(s, 50000)
		assert.True(t, cut)
		body := strings.TrimSuffix(out, TruncationMarker)
		assert.Equal(t, 50000, len(body))
		assert.True(t, utf8.ValidString(body))
	})
}

func TestConversation(t *testing.T) {
	conv := NewConversation("start")
	conv.AppendAssistant("thinking", []ToolCall{{ID: "a", Name: "x"}})
	conv.AppendToolResults([]ToolResult{{ToolCallID: "a", Content: "ok"}})

	clone := conv.Clone()
	clone.AppendUser("more")

	assert.Equal(t, 3, conv.Len())
	assert.Equal(t, 4, clone.Len())

	last, ok := conv.Last()
	assert.True(t, ok)
	assert.Equal(t, RoleToolResult, last.Role)

	data, err := conv.MarshalJSON()
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"tool_call_id":"a"`)

	_, ok = NewConversation("").Last()
	assert.False(t, ok)
}
