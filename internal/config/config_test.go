package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, DefaultModel, cfg.Provider.Model)
	assert.Equal(t, 50, cfg.Loop.MaxRounds)
	assert.Equal(t, 10*time.Minute, cfg.Loop.WallClock)
	assert.Equal(t, 160000, cfg.Loop.MaxOutputTokens)
	assert.Equal(t, 3, cfg.Loop.MaxTruncationRetries)
	assert.Equal(t, 50000, cfg.Loop.OutputLimitBytes)
	assert.Equal(t, 1, cfg.Subagent.MaxDepth)
	assert.Equal(t, 8000, cfg.Subagent.MaxOutputTokens)
	assert.NoError(t, cfg.Validate())
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name        string
		tokens      int
		retries     int
		wantTokens  int
		wantRetries int
	}{
		{"in range", 32000, 5, 32000, 5},
		{"below minimum", 10, 0, 1000, 1},
		{"above maximum", 500000000, 99, 100000000, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Loop.MaxOutputTokens = tt.tokens
			cfg.Loop.MaxTruncationRetries = tt.retries
			cfg.Clamp()
			assert.Equal(t, tt.wantTokens, cfg.Loop.MaxOutputTokens)
			assert.Equal(t, tt.wantRetries, cfg.Loop.MaxTruncationRetries)
		})
	}
}

func TestApplyBridgeDefaults(t *testing.T) {
	b := BridgeConfig{Name: "browser", Command: "node"}
	b.ApplyBridgeDefaults()

	assert.Equal(t, DefaultBridgeCallTimeout, b.CallTimeout)
	assert.Equal(t, DefaultBridgeStartTimeout, b.StartTimeout)
	assert.False(t, b.DisableRestart)
	assert.Equal(t, 3, b.MaxRestarts)
	assert.Equal(t, "remote", b.Category)
}

func TestConfigValidate(t *testing.T) {
	t.Run("invalid provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Provider.Name = "gemini"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid provider")
	})

	t.Run("non-positive round budget", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Loop.MaxRounds = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_rounds")
	})
}

func TestConfigStringMasksKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-ant-secret"
	s := cfg.String()
	assert.NotContains(t, s, "sk-ant-secret")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "sk-ant-secret", cfg.Provider.APIKey)
}
