package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "MINICODE"
	dataDirName    = ".minicode"
	configFileName = "config.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
	workspace  string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile overrides the dotenv file read before the environment
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// WithWorkspace overrides workspace_path from every other source
func (l *Loader) WithWorkspace(path string) *Loader {
	l.workspace = path
	return l
}

// Load merges defaults, the config file and the environment, in that order
// of increasing precedence. A missing config file or .env is not an error.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(l.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	configPath := l.GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Unparseable numeric overrides fall back to their defaults
	intOrDefault(v, "loop.max_output_tokens", DefaultMaxOutputTokens)
	intOrDefault(v, "loop.max_truncation_retries", DefaultMaxTruncationRetries)

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = providerKeyFromEnv(cfg.Provider.Name)
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = providerBaseURLFromEnv(cfg.Provider.Name)
	}

	if err := l.resolvePaths(cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Bridges {
		cfg.Bridges[i].ApplyBridgeDefaults()
	}

	cfg.Clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) resolvePaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, dataDirName)
	}

	if l.workspace != "" {
		cfg.WorkspacePath = l.workspace
	}
	if cfg.WorkspacePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkspacePath = wd
	}
	abs, err := filepath.Abs(cfg.WorkspacePath)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	cfg.WorkspacePath = abs

	if cfg.SkillsDir == "" {
		cfg.SkillsDir = filepath.Join(cfg.WorkspacePath, "skills")
	} else if !filepath.IsAbs(cfg.SkillsDir) {
		cfg.SkillsDir = filepath.Join(cfg.WorkspacePath, cfg.SkillsDir)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, dataDirName, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// setDefaults registers every scalar key so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.api_key", d.Provider.APIKey)
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.temperature", d.Provider.Temperature)

	v.SetDefault("loop.max_rounds", d.Loop.MaxRounds)
	v.SetDefault("loop.wall_clock", d.Loop.WallClock)
	v.SetDefault("loop.max_output_tokens", d.Loop.MaxOutputTokens)
	v.SetDefault("loop.max_truncation_retries", d.Loop.MaxTruncationRetries)
	v.SetDefault("loop.output_limit_bytes", d.Loop.OutputLimitBytes)
	v.SetDefault("loop.max_parallel_tools", d.Loop.MaxParallelTools)
	v.SetDefault("loop.max_retries", d.Loop.MaxRetries)

	v.SetDefault("subagent.max_depth", d.Subagent.MaxDepth)
	v.SetDefault("subagent.max_output_tokens", d.Subagent.MaxOutputTokens)

	v.SetDefault("workspace_path", d.WorkspacePath)
	v.SetDefault("skills_dir", d.SkillsDir)
	v.SetDefault("watch_skills", d.WatchSkills)
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)
	v.SetDefault("logging.audit_file", d.Logging.AuditFile)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
}

// bindLegacyEnv maps the environment names older deployments use. The
// prefixed name is listed first and wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"provider.model":              {"MINICODE_PROVIDER_MODEL", "MODEL_NAME"},
		"loop.max_output_tokens":      {"MINICODE_LOOP_MAX_OUTPUT_TOKENS", "MINI_CODE_MAX_OUTPUT_TOKENS"},
		"loop.max_truncation_retries": {"MINICODE_LOOP_MAX_TRUNCATION_RETRIES", "MINI_CODE_MAX_TRUNCATION_RETRIES"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

func intOrDefault(v *viper.Viper, key string, def int) {
	raw := strings.TrimSpace(fmt.Sprint(v.Get(key)))
	n, err := strconv.Atoi(raw)
	if err != nil {
		v.Set(key, def)
		return
	}
	v.Set(key, n)
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("ANTHROPIC_AUTH_TOKEN")
	}
}

func providerBaseURLFromEnv(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_BASE_URL")
	default:
		if u := os.Getenv("ANTHROPIC_API_BASE"); u != "" {
			return u
		}
		return os.Getenv("ANTHROPIC_BASE_URL")
	}
}
