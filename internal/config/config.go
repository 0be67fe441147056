// ABOUTME: Configuration loading and parsing for loom-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete loom-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Chat      ChatConfig      `yaml:"chat"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProvidersConfig holds per-provider credentials and catalogs. A provider
// is registered only when its section carries an API key.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ProviderConfig holds one upstream provider's settings
type ProviderConfig struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// Enabled reports whether this provider should be registered
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// ChatConfig holds the orchestrator's defaults and policies
type ChatConfig struct {
	DefaultProvider   string `yaml:"default_provider"`
	DefaultModel      string `yaml:"default_model"`
	TokenBudget       int    `yaml:"token_budget"`
	EnableFallback    bool   `yaml:"enable_fallback"`
	StrictWindow      bool   `yaml:"strict_window"`
	FailOnEmptyWindow bool   `yaml:"fail_on_empty_window"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if !c.Providers.OpenAI.Enabled() && !c.Providers.Anthropic.Enabled() {
		return fmt.Errorf("at least one provider needs an api_key")
	}

	if c.Chat.DefaultProvider != "" {
		switch c.Chat.DefaultProvider {
		case "openai":
			if !c.Providers.OpenAI.Enabled() {
				return fmt.Errorf("chat.default_provider is openai but providers.openai has no api_key")
			}
		case "anthropic":
			if !c.Providers.Anthropic.Enabled() {
				return fmt.Errorf("chat.default_provider is anthropic but providers.anthropic has no api_key")
			}
		default:
			return fmt.Errorf("chat.default_provider %q is not a known provider", c.Chat.DefaultProvider)
		}
	}

	if c.Chat.TokenBudget < 0 {
		return fmt.Errorf("chat.token_budget cannot be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Chat.RequestTimeoutRaw != "" {
		cfg.Chat.RequestTimeout, err = time.ParseDuration(cfg.Chat.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing chat.request_timeout %q: %w", cfg.Chat.RequestTimeoutRaw, err)
		}
	}

	if cfg.Providers.OpenAI.TimeoutRaw != "" {
		cfg.Providers.OpenAI.Timeout, err = time.ParseDuration(cfg.Providers.OpenAI.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing providers.openai.timeout %q: %w", cfg.Providers.OpenAI.TimeoutRaw, err)
		}
	}

	if cfg.Providers.Anthropic.TimeoutRaw != "" {
		cfg.Providers.Anthropic.Timeout, err = time.ParseDuration(cfg.Providers.Anthropic.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing providers.anthropic.timeout %q: %w", cfg.Providers.Anthropic.TimeoutRaw, err)
		}
	}

	return nil
}
