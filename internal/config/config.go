// Package config loads arbiter configuration from ~/.arbiter/config.yaml,
// with environment variable overrides (ARBITER_ prefix). A default file is
// written on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/arbiter/internal/review"
	"github.com/normanking/arbiter/internal/session"
	"github.com/normanking/arbiter/internal/toolloop"
	"github.com/normanking/arbiter/pkg/brain"
)

// Config holds all arbiter configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Brains  BrainsConfig  `mapstructure:"brains" yaml:"brains"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Review  ReviewConfig  `mapstructure:"review" yaml:"review"`
	Tools   ToolsConfig   `mapstructure:"tools" yaml:"tools"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig names the providers in the fallback chain.
type LLMConfig struct {
	// PrimaryProvider serves every brain's primary model variant.
	PrimaryProvider string `mapstructure:"primary_provider" yaml:"primary_provider"`
	// SecondaryProvider is the cloud fallback; empty disables it.
	SecondaryProvider string `mapstructure:"secondary_provider" yaml:"secondary_provider"`
	// LocalProvider is the last-resort local fallback; empty disables it.
	LocalProvider string `mapstructure:"local_provider" yaml:"local_provider"`

	// Providers maps provider names to their connection settings.
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderConfig holds one provider's connection settings.
type ProviderConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
}

// BrainsConfig overrides the built-in brain definitions per brain ID.
type BrainsConfig map[string]BrainOverride

// BrainOverride adjusts one brain away from its defaults. Zero values mean
// "keep the default".
type BrainOverride struct {
	Model       string   `mapstructure:"model" yaml:"model,omitempty"`
	Temperature *float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	MaxTokens   int      `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Enabled     *bool    `mapstructure:"enabled" yaml:"enabled,omitempty"`
}

// SessionConfig controls conversation history.
type SessionConfig struct {
	// TokenBudget bounds how much history flows into prompts.
	TokenBudget int `mapstructure:"token_budget" yaml:"token_budget"`
	// Persist selects the SQLite store instead of in-memory.
	Persist bool `mapstructure:"persist" yaml:"persist"`
	// DBPath is the SQLite file used when Persist is true.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// ReviewConfig controls the selective response reviewer.
type ReviewConfig struct {
	Enabled             bool    `mapstructure:"enabled" yaml:"enabled"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	SampleRate          float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// ToolsConfig controls the bounded tool execution loop.
type ToolsConfig struct {
	Enabled   bool `mapstructure:"enabled" yaml:"enabled"`
	MaxCycles int  `mapstructure:"max_cycles" yaml:"max_cycles"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// File receives JSON logs when set; empty logs to stderr only.
	File string `mapstructure:"file" yaml:"file,omitempty"`
	// Console enables human-readable console output.
	Console bool `mapstructure:"console" yaml:"console"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			PrimaryProvider:   "openai",
			SecondaryProvider: "anthropic",
			LocalProvider:     "ollama",
			Providers: map[string]ProviderConfig{
				"openai": {
					Endpoint: "https://api.openai.com/v1",
					Model:    "gpt-4o",
				},
				"anthropic": {
					Endpoint: "https://api.anthropic.com",
					Model:    "claude-3-5-sonnet-20241022",
				},
				"ollama": {
					Endpoint: "http://localhost:11434",
					Model:    "llama3.2",
				},
			},
		},
		Brains: BrainsConfig{},
		Session: SessionConfig{
			TokenBudget: session.DefaultTokenBudget,
			Persist:     false,
			DBPath:      "~/.arbiter/sessions.db",
		},
		Review: ReviewConfig{
			Enabled:             true,
			ConfidenceThreshold: review.DefaultConfidenceThreshold,
			SampleRate:          review.DefaultSampleRate,
		},
		Tools: ToolsConfig{
			Enabled:   true,
			MaxCycles: toolloop.DefaultMaxCycles,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "~/.arbiter/arbiter.log",
			Console: true,
		},
	}
}

// Load reads configuration from ~/.arbiter/config.yaml.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".arbiter", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file, creating it with
// defaults when absent, and merges environment variable overrides
// (e.g. ARBITER_LLM_PROVIDERS_OPENAI_API_KEY).
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ARBITER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Session.DBPath = expandPath(cfg.Session.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Save writes the configuration back to ~/.arbiter/config.yaml.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return c.SaveToPath(filepath.Join(homeDir, ".arbiter", "config.yaml"))
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// Validate checks for common misconfigurations.
func (c *Config) Validate() error {
	if c.LLM.PrimaryProvider == "" {
		return fmt.Errorf("llm.primary_provider cannot be empty")
	}
	if _, ok := c.LLM.Providers[c.LLM.PrimaryProvider]; !ok {
		return fmt.Errorf("primary provider %q not found in providers map", c.LLM.PrimaryProvider)
	}
	if c.LLM.SecondaryProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.SecondaryProvider]; !ok {
			return fmt.Errorf("secondary provider %q not found in providers map", c.LLM.SecondaryProvider)
		}
	}
	if c.LLM.LocalProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.LocalProvider]; !ok {
			return fmt.Errorf("local provider %q not found in providers map", c.LLM.LocalProvider)
		}
	}

	for name := range c.Brains {
		if !brain.ID(name).Valid() {
			return fmt.Errorf("unknown brain %q in brains section", name)
		}
	}

	if c.Session.TokenBudget < 0 {
		return fmt.Errorf("session.token_budget cannot be negative")
	}
	if c.Review.SampleRate < 0 || c.Review.SampleRate > 1 {
		return fmt.Errorf("review.sample_rate must be within [0,1]")
	}
	if c.Tools.MaxCycles < 1 {
		return fmt.Errorf("tools.max_cycles must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// BuildRegistry seeds the default brains and applies configured overrides.
func (c *Config) BuildRegistry() (*brain.Registry, error) {
	reg := brain.NewDefaultRegistry()
	for name, ov := range c.Brains {
		id := brain.ID(name)
		b, err := reg.Get(id)
		if err != nil {
			return nil, fmt.Errorf("brain override %q: %w", name, err)
		}
		if ov.Model != "" {
			b.ModelVariant = ov.Model
		}
		if ov.Temperature != nil {
			b.Temperature = *ov.Temperature
		}
		if ov.MaxTokens > 0 {
			b.MaxTokens = ov.MaxTokens
		}
		if ov.Enabled != nil {
			b.Enabled = *ov.Enabled
		}
	}
	return reg, nil
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
