package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main minicode configuration
type Config struct {
	// Model provider
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Execution loop budgets
	Loop LoopConfig `json:"loop" mapstructure:"loop"`

	// Subagent spawning
	Subagent SubagentConfig `json:"subagent" mapstructure:"subagent"`

	// External tool providers reached over stdio
	Bridges []BridgeConfig `json:"bridges" mapstructure:"bridges"`

	// Workspace root all file tools are confined to
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`

	// Skills directory and hot reload
	SkillsDir   string `json:"skills_dir" mapstructure:"skills_dir"`
	WatchSkills bool   `json:"watch_skills" mapstructure:"watch_skills"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ProviderConfig selects and configures the model provider
type ProviderConfig struct {
	Name        string  `json:"name" mapstructure:"name"` // anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// LoopConfig holds the execution loop budgets
type LoopConfig struct {
	MaxRounds            int           `json:"max_rounds" mapstructure:"max_rounds"`
	WallClock            time.Duration `json:"wall_clock" mapstructure:"wall_clock"`
	MaxOutputTokens      int           `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	MaxTruncationRetries int           `json:"max_truncation_retries" mapstructure:"max_truncation_retries"`
	OutputLimitBytes     int           `json:"output_limit_bytes" mapstructure:"output_limit_bytes"`
	MaxParallelTools     int           `json:"max_parallel_tools" mapstructure:"max_parallel_tools"`
	MaxRetries           int           `json:"max_retries" mapstructure:"max_retries"`
}

// SubagentConfig bounds nested runs
type SubagentConfig struct {
	MaxDepth        int `json:"max_depth" mapstructure:"max_depth"`
	MaxOutputTokens int `json:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// BridgeConfig describes one external tool provider process
type BridgeConfig struct {
	Name         string            `json:"name" mapstructure:"name"`
	Command      string            `json:"command" mapstructure:"command"`
	Args         []string          `json:"args" mapstructure:"args"`
	Env          map[string]string `json:"env" mapstructure:"env"`
	Dir          string            `json:"dir" mapstructure:"dir"`
	CallTimeout  time.Duration     `json:"call_timeout" mapstructure:"call_timeout"`
	StartTimeout time.Duration     `json:"start_timeout" mapstructure:"start_timeout"`
	// DisableRestart keeps a crashed provider down instead of relaunching it
	DisableRestart bool     `json:"disable_restart" mapstructure:"disable_restart"`
	MaxRestarts    int      `json:"max_restarts" mapstructure:"max_restarts"`
	Category       string   `json:"category" mapstructure:"category"`
	Roles          []string `json:"roles" mapstructure:"roles"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"` // JSON lines of tool and run events; empty disables
}

// MetricsConfig holds the prometheus endpoint address; empty disables it
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

const (
	DefaultModel                = "claude-sonnet-4-20250514"
	DefaultMaxOutputTokens      = 160000
	DefaultMaxTruncationRetries = 3
	DefaultBridgeCallTimeout    = 60 * time.Second
	DefaultBridgeStartTimeout   = 30 * time.Second
	DefaultBridgeMaxRestarts    = 3

	minOutputTokens = 1000
	maxOutputTokens = 100000000
	minTruncRetries = 1
	maxTruncRetries = 10
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        "anthropic",
			Model:       DefaultModel,
			Temperature: 0,
		},
		Loop: LoopConfig{
			MaxRounds:            50,
			WallClock:            10 * time.Minute,
			MaxOutputTokens:      DefaultMaxOutputTokens,
			MaxTruncationRetries: DefaultMaxTruncationRetries,
			OutputLimitBytes:     50000,
			MaxParallelTools:     8,
			MaxRetries:           3,
		},
		Subagent: SubagentConfig{
			MaxDepth:        1,
			MaxOutputTokens: 8000,
		},
		Bridges: []BridgeConfig{},
		Logging: LoggingConfig{
			Level:     "warn",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "minicode",
			SampleRatio: 1,
		},
	}
}

// ApplyBridgeDefaults fills zero-valued bridge fields
func (b *BridgeConfig) ApplyBridgeDefaults() {
	if b.CallTimeout <= 0 {
		b.CallTimeout = DefaultBridgeCallTimeout
	}
	if b.StartTimeout <= 0 {
		b.StartTimeout = DefaultBridgeStartTimeout
	}
	if b.MaxRestarts <= 0 {
		b.MaxRestarts = DefaultBridgeMaxRestarts
	}
	if b.Category == "" {
		b.Category = "remote"
	}
}

// Clamp forces the loop budgets into their accepted ranges
func (c *Config) Clamp() {
	c.Loop.MaxOutputTokens = clamp(c.Loop.MaxOutputTokens, minOutputTokens, maxOutputTokens)
	c.Loop.MaxTruncationRetries = clamp(c.Loop.MaxTruncationRetries, minTruncRetries, maxTruncRetries)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	clone := *c
	if clone.Provider.APIKey != "" {
		clone.Provider.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// Validate checks the structural validity of the configuration
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errs[0])
}
