package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Quill.
type Config struct {
	Engine       EngineConfig       `yaml:"engine"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Tools        ToolsConfig        `yaml:"tools"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// EngineConfig bounds a single turn.
type EngineConfig struct {
	MaxRounds   int      `yaml:"max_rounds"`
	MaxWallTime Duration `yaml:"max_wall_time"`
	MaxTokens   int      `yaml:"max_tokens"`
	EventBuffer int      `yaml:"event_buffer"`
}

// ProvidersConfig selects and credentials the model backends.
type ProvidersConfig struct {
	// Default names the provider used when a request does not specify one.
	Default string `yaml:"default"`

	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Google    GoogleConfig    `yaml:"google"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
	Ollama    OllamaConfig    `yaml:"ollama"`
}

type AnthropicConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

type OpenAIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

type GoogleConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

type BedrockConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	DefaultModel    string `yaml:"default_model"`
}

type OllamaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	BaseURL      string   `yaml:"base_url"`
	DefaultModel string   `yaml:"default_model"`
	Timeout      Duration `yaml:"timeout"`
}

// CapabilitiesConfig points the built-in tools at their backends. An empty
// base URL disables the corresponding tool.
type CapabilitiesConfig struct {
	WebSearch EndpointConfig `yaml:"websearch"`
	Drive     DriveConfig    `yaml:"drive"`
	Memory    EndpointConfig `yaml:"memory"`
	Documents EndpointConfig `yaml:"documents"`
	External  EndpointConfig `yaml:"external"`
}

// EndpointConfig is a plain HTTP backend.
type EndpointConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

// DriveConfig is the drive search backend plus the OAuth client used to
// mint its tokens.
type DriveConfig struct {
	BaseURL string      `yaml:"base_url"`
	Timeout Duration    `yaml:"timeout"`
	OAuth   OAuthConfig `yaml:"oauth"`
}

type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// ToolsConfig bounds the tool executor.
type ToolsConfig struct {
	MaxConcurrency  int      `yaml:"max_concurrency"`
	SearchAttempts  int      `yaml:"search_attempts"`
	Timeout         Duration `yaml:"timeout"`
	ExternalTimeout Duration `yaml:"external_timeout"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Duration parses "30s" / "5m" style values from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\"")
	}
	if strings.TrimSpace(raw) == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, merges, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxRounds == 0 {
		cfg.Engine.MaxRounds = 10
	}
	if cfg.Engine.MaxWallTime == 0 {
		cfg.Engine.MaxWallTime = Duration(10 * time.Minute)
	}
	if cfg.Engine.MaxTokens == 0 {
		cfg.Engine.MaxTokens = 8192
	}
	if cfg.Engine.EventBuffer == 0 {
		cfg.Engine.EventBuffer = 64
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Tools.MaxConcurrency == 0 {
		cfg.Tools.MaxConcurrency = 5
	}
	if cfg.Tools.SearchAttempts == 0 {
		cfg.Tools.SearchAttempts = 3
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = Duration(30 * time.Second)
	}
	if cfg.Tools.ExternalTimeout == 0 {
		cfg.Tools.ExternalTimeout = Duration(60 * time.Second)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "quill"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// Validate rejects configurations that could not start cleanly.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not json or text", c.Logging.Format)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate %v must be within [0, 1]", c.Tracing.SamplingRate)
	}

	enabled := c.enabledProviders()
	if len(enabled) == 0 {
		return fmt.Errorf("providers: at least one provider must be enabled")
	}
	if !enabled[c.Providers.Default] {
		return fmt.Errorf("providers.default %q is not an enabled provider", c.Providers.Default)
	}

	if c.Providers.Anthropic.Enabled && c.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("providers.anthropic: api_key is required")
	}
	if c.Providers.OpenAI.Enabled && c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("providers.openai: api_key is required")
	}
	if c.Providers.Google.Enabled && c.Providers.Google.APIKey == "" {
		return fmt.Errorf("providers.google: api_key is required")
	}

	if c.Capabilities.Drive.BaseURL != "" {
		oauth := c.Capabilities.Drive.OAuth
		if oauth.ClientID == "" || oauth.TokenURL == "" {
			return fmt.Errorf("capabilities.drive: oauth client_id and token_url are required")
		}
	}

	return nil
}

func (c *Config) enabledProviders() map[string]bool {
	enabled := map[string]bool{}
	if c.Providers.Anthropic.Enabled {
		enabled["anthropic"] = true
	}
	if c.Providers.OpenAI.Enabled {
		enabled["openai"] = true
	}
	if c.Providers.Google.Enabled {
		enabled["google"] = true
	}
	if c.Providers.Bedrock.Enabled {
		enabled["bedrock"] = true
	}
	if c.Providers.Ollama.Enabled {
		enabled["ollama"] = true
	}
	return enabled
}
