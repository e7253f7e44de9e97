package agent

const (
	contextWindowTokens = 200000
	minOutputTokens     = 4000
)

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		// Rough estimation: 1 token ≈ 4 characters
		total += msg.chars() / 4
	}
	return total
}

// MaxTokensFor sizes the response budget from the remaining context window:
// 40% of what is left, at least minOutputTokens, at most maxConfigured.
func MaxTokensFor(contextTokens, maxConfigured int) int {
	available := contextWindowTokens - contextTokens
	if available < 0 {
		available = 0
	}
	out := available * 2 / 5
	if out < minOutputTokens {
		out = minOutputTokens
	}
	if out > maxConfigured {
		out = maxConfigured
	}
	return out
}
