package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Deployment environments selecting the relay URL used by the client.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const DefaultListenPort = 3052

// Config holds the configuration shared by the relay server and the chat client
type Config struct {
	ListenPort       int                          `toml:"listen_port" mapstructure:"listen_port"`
	Env              string                       `toml:"env" mapstructure:"env"` // "development" or "production"
	DevRelayURL      string                       `toml:"dev_relay_url" mapstructure:"dev_relay_url"`
	ProdRelayURL     string                       `toml:"prod_relay_url" mapstructure:"prod_relay_url"`
	OpenAIBaseURL    string                       `toml:"openai_base_url" mapstructure:"openai_base_url"`
	OpenAIToken      string                       `toml:"openai_token" mapstructure:"openai_token"`
	AnthropicBaseURL string                       `toml:"anthropic_base_url" mapstructure:"anthropic_base_url"`
	AnthropicToken   string                       `toml:"anthropic_token" mapstructure:"anthropic_token"`
	GeminiBaseURL    string                       `toml:"gemini_base_url" mapstructure:"gemini_base_url"`
	GeminiToken      string                       `toml:"gemini_token" mapstructure:"gemini_token"`
	IdleTimeout      string                       `toml:"idle_timeout" mapstructure:"idle_timeout"` // Go duration, "0s" = disabled
	LogLevel         string                       `toml:"log_level" mapstructure:"log_level"`
	Model            string                       `toml:"model" mapstructure:"model"` // default model label of the chat client
	PrefsFile        string                       `toml:"prefs_file" mapstructure:"prefs_file"`
	Models           map[string]map[string]string `toml:"models,omitempty" mapstructure:"models"` // provider -> label -> model name
}

// NewDefaultConfig returns a new Config with default values
func NewDefaultConfig(prefsFile string) *Config {
	return &Config{
		ListenPort:       DefaultListenPort,
		Env:              EnvDevelopment,
		DevRelayURL:      fmt.Sprintf("http://localhost:%d", DefaultListenPort),
		ProdRelayURL:     "",
		OpenAIBaseURL:    "https://api.openai.com/v1",
		OpenAIToken:      "$OPENAI_API_KEY", // Default to env var
		AnthropicBaseURL: "https://api.anthropic.com/v1",
		AnthropicToken:   "$ANTHROPIC_API_KEY",
		GeminiBaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		GeminiToken:      "$GEMINI_API_KEY",
		IdleTimeout:      "0s",
		LogLevel:         "info",
		Model:            "gpt",
		PrefsFile:        prefsFile,
	}
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("listen_port", def.ListenPort)
	v.SetDefault("env", def.Env)
	v.SetDefault("dev_relay_url", def.DevRelayURL)
	v.SetDefault("prod_relay_url", def.ProdRelayURL)
	v.SetDefault("openai_base_url", def.OpenAIBaseURL)
	v.SetDefault("openai_token", def.OpenAIToken)
	v.SetDefault("anthropic_base_url", def.AnthropicBaseURL)
	v.SetDefault("anthropic_token", def.AnthropicToken)
	v.SetDefault("gemini_base_url", def.GeminiBaseURL)
	v.SetDefault("gemini_token", def.GeminiToken)
	v.SetDefault("idle_timeout", def.IdleTimeout)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("model", def.Model)
	v.SetDefault("prefs_file", def.PrefsFile)
}

// LoadConfig loads configuration from the global viper instance
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load unmarshals v and expands environment references in URLs and tokens.
func Load(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for _, field := range []*string{
		&config.DevRelayURL, &config.ProdRelayURL,
		&config.OpenAIBaseURL, &config.OpenAIToken,
		&config.AnthropicBaseURL, &config.AnthropicToken,
		&config.GeminiBaseURL, &config.GeminiToken,
	} {
		*field = expandEnvVar(*field)
	}

	if config.PrefsFile != "" {
		path, err := ResolvePath(v, config.PrefsFile)
		if err != nil {
			return nil, fmt.Errorf("error resolving prefs file path '%s': %w", config.PrefsFile, err)
		}
		config.PrefsFile = path
	}

	if _, err := config.GetIdleTimeout(); err != nil {
		return nil, err
	}

	return config, nil
}

// GetIdleTimeout parses idle_timeout. Zero disables the timeout.
func (c *Config) GetIdleTimeout() (time.Duration, error) {
	if c.IdleTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid idle_timeout %q: %w", c.IdleTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid idle_timeout %q: must not be negative", c.IdleTimeout)
	}
	return d, nil
}

// ListenAddr returns the address the relay listens on
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.ListenPort)
}
