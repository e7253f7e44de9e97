package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

var validProviders = []string{"anthropic", "openai"}

// ValidateProviderName validates the provider name
func (v *Validator) ValidateProviderName(name string) error {
	for _, valid := range validProviders {
		if name == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", name, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format. Keys used against a custom
// base URL are only required to be non-empty.
func (v *Validator) ValidateAPIKey(key, provider, baseURL string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if baseURL != "" {
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates everything needed to construct a provider
func (v *Validator) ValidateProvider(p ProviderConfig) error {
	if err := v.ValidateProviderName(p.Name); err != nil {
		return err
	}
	if strings.TrimSpace(p.Model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if err := v.ValidateTemperature(p.Temperature); err != nil {
		return err
	}
	return v.ValidateAPIKey(p.APIKey, p.Name, p.BaseURL)
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBridges checks names and commands of the configured bridges
func (v *Validator) ValidateBridges(bridges []BridgeConfig) []error {
	var errors []error
	seen := make(map[string]bool, len(bridges))
	for i, b := range bridges {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			errors = append(errors, fmt.Errorf("bridge %d: name is required", i))
			continue
		}
		if seen[name] {
			errors = append(errors, fmt.Errorf("bridge %s: duplicate name", name))
		}
		seen[name] = true
		if strings.TrimSpace(b.Command) == "" {
			errors = append(errors, fmt.Errorf("bridge %s: command is required", name))
		}
		if b.MaxRestarts < 0 {
			errors = append(errors, fmt.Errorf("bridge %s: max_restarts must be >= 0", name))
		}
	}
	return errors
}

// ValidateConfig performs comprehensive structural validation. Credentials
// are checked separately by ValidateProvider when a provider is built.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProviderName(cfg.Provider.Name); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTemperature(cfg.Provider.Temperature); err != nil {
		errors = append(errors, err)
	}

	if cfg.Loop.MaxRounds <= 0 {
		errors = append(errors, fmt.Errorf("loop.max_rounds must be positive"))
	}
	if cfg.Loop.WallClock <= 0 {
		errors = append(errors, fmt.Errorf("loop.wall_clock must be positive"))
	}
	if cfg.Loop.OutputLimitBytes <= 0 {
		errors = append(errors, fmt.Errorf("loop.output_limit_bytes must be positive"))
	}
	if cfg.Loop.MaxParallelTools <= 0 {
		errors = append(errors, fmt.Errorf("loop.max_parallel_tools must be positive"))
	}
	if cfg.Loop.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("loop.max_retries must be >= 0"))
	}
	if cfg.Subagent.MaxDepth < 0 {
		errors = append(errors, fmt.Errorf("subagent.max_depth must be >= 0"))
	}
	if cfg.Subagent.MaxOutputTokens <= 0 {
		errors = append(errors, fmt.Errorf("subagent.max_output_tokens must be positive"))
	}

	errors = append(errors, v.ValidateBridges(cfg.Bridges)...)

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors
}
