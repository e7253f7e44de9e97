package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolatedLoader(t *testing.T, configPath string) *Loader {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN", "ANTHROPIC_API_BASE", "ANTHROPIC_BASE_URL",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "MODEL_NAME",
		"MINI_CODE_MAX_OUTPUT_TOKENS", "MINI_CODE_MAX_TRUNCATION_RETRIES",
	} {
		t.Setenv(key, "")
	}
	return NewLoader(configPath).WithEnvFile(filepath.Join(t.TempDir(), ".env"))
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := isolatedLoader(t, configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultModel, cfg.Provider.Model)
		assert.Equal(t, 50, cfg.Loop.MaxRounds)
		assert.True(t, filepath.IsAbs(cfg.WorkspacePath))
		assert.Equal(t, filepath.Join(cfg.WorkspacePath, "skills"), cfg.SkillsDir)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"provider": {"name": "openai", "model": "gpt-4o", "api_key": "sk-file"},
			"loop": {"max_rounds": 7, "wall_clock": "2m"},
			"workspace_path": "` + tmpDir + `",
			"bridges": [{"name": "browser", "command": "node", "args": ["server.js"], "call_timeout": "5s"}]
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := isolatedLoader(t, configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.Provider.Name)
		assert.Equal(t, "gpt-4o", cfg.Provider.Model)
		assert.Equal(t, "sk-file", cfg.Provider.APIKey)
		assert.Equal(t, 7, cfg.Loop.MaxRounds)
		assert.Equal(t, 2*time.Minute, cfg.Loop.WallClock)
		require.Len(t, cfg.Bridges, 1)
		assert.Equal(t, []string{"server.js"}, cfg.Bridges[0].Args)
		assert.Equal(t, 5*time.Second, cfg.Bridges[0].CallTimeout)
		assert.Equal(t, DefaultBridgeStartTimeout, cfg.Bridges[0].StartTimeout)
		assert.Equal(t, "remote", cfg.Bridges[0].Category)
	})

	t.Run("environment overrides", func(t *testing.T) {
		loader := isolatedLoader(t, filepath.Join(t.TempDir(), "none.json"))
		t.Setenv("MINICODE_LOOP_MAX_ROUNDS", "12")
		t.Setenv("MODEL_NAME", "claude-test")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.Loop.MaxRounds)
		assert.Equal(t, "claude-test", cfg.Provider.Model)
		assert.Equal(t, "sk-ant-env", cfg.Provider.APIKey)
	})

	t.Run("legacy budget variables are clamped", func(t *testing.T) {
		loader := isolatedLoader(t, filepath.Join(t.TempDir(), "none.json"))
		t.Setenv("MINI_CODE_MAX_OUTPUT_TOKENS", "32000")
		t.Setenv("MINI_CODE_MAX_TRUNCATION_RETRIES", "50")

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 32000, cfg.Loop.MaxOutputTokens)
		assert.Equal(t, 10, cfg.Loop.MaxTruncationRetries)
	})

	t.Run("unparseable budget falls back to default", func(t *testing.T) {
		loader := isolatedLoader(t, filepath.Join(t.TempDir(), "none.json"))
		t.Setenv("MINI_CODE_MAX_OUTPUT_TOKENS", "lots")

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxOutputTokens, cfg.Loop.MaxOutputTokens)
	})

	t.Run("dotenv file is read", func(t *testing.T) {
		dir := t.TempDir()
		envFile := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("MINICODE_SUBAGENT_MAX_DEPTH=2\n"), 0644))

		loader := isolatedLoader(t, filepath.Join(dir, "none.json")).WithEnvFile(envFile)
		t.Cleanup(func() { os.Unsetenv("MINICODE_SUBAGENT_MAX_DEPTH") })

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Subagent.MaxDepth)
	})

	t.Run("invalid bridge rejected", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"bridges":[{"name":"x"}]}`), 0644))

		_, err := isolatedLoader(t, configPath).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "command is required")
	})

	t.Run("workspace override wins over the file", func(t *testing.T) {
		tmpDir := t.TempDir()
		override := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"workspace_path": "`+tmpDir+`"}`), 0644))

		cfg, err := isolatedLoader(t, configPath).WithWorkspace(override).Load()
		require.NoError(t, err)
		assert.Equal(t, override, cfg.WorkspacePath)
		assert.Equal(t, filepath.Join(override, "skills"), cfg.SkillsDir)
	})
}
