package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// expandEnvVar expands environment variable references in the given value
// Supports both $VAR and ${VAR} syntax
// If the environment variable is not set, returns empty string.
func expandEnvVar(value string) string {
	if !strings.HasPrefix(value, "$") {
		return value
	}

	var envVarName string
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVarName = value[2 : len(value)-1]
	} else {
		envVarName = strings.TrimPrefix(value, "$")
	}

	return os.Getenv(envVarName)
}

// GetBaseURL returns the base URL for the specified provider
func (c *Config) GetBaseURL(provider string) (string, error) {
	var baseURLValue string
	switch provider {
	case "openai":
		baseURLValue = c.OpenAIBaseURL
	case "gemini":
		baseURLValue = c.GeminiBaseURL
	case "anthropic":
		baseURLValue = c.AnthropicBaseURL
	default:
		return "", fmt.Errorf("unsupported provider: %s", provider)
	}

	if baseURLValue == "" {
		return "", fmt.Errorf("%s base URL is not configured. Set it in config file (%s_base_url) or environment variable (LLMRELAY_%s_BASE_URL)", provider, provider, strings.ToUpper(provider))
	}

	return strings.TrimRight(baseURLValue, "/"), nil
}

// GetToken returns the token for the specified provider
func (c *Config) GetToken(provider string) (string, error) {
	var tokenValue string
	switch provider {
	case "openai":
		tokenValue = c.OpenAIToken
	case "gemini":
		tokenValue = c.GeminiToken
	case "anthropic":
		tokenValue = c.AnthropicToken
	default:
		return "", fmt.Errorf("unsupported provider: %s", provider)
	}

	if tokenValue == "" {
		return "", fmt.Errorf("%s token is not configured. Set it in config file (%s_token) or environment variable (LLMRELAY_%s_TOKEN)", provider, provider, strings.ToUpper(provider))
	}

	return tokenValue, nil
}

// GetModelOverrides returns the label -> model overrides of a provider.
// Keys are lowercase because viper lowercases configuration keys.
func (c *Config) GetModelOverrides(provider string) map[string]string {
	overrides := make(map[string]string, len(c.Models[provider]))
	for label, model := range c.Models[provider] {
		overrides[strings.ToLower(label)] = model
	}
	return overrides
}

// RelayURL returns the relay base URL for the configured environment
func (c *Config) RelayURL() (string, error) {
	var url string
	switch c.Env {
	case EnvDevelopment, "":
		url = c.DevRelayURL
	case EnvProduction:
		url = c.ProdRelayURL
	default:
		return "", fmt.Errorf("unknown env: %s (expected %s or %s)", c.Env, EnvDevelopment, EnvProduction)
	}

	if url == "" {
		return "", fmt.Errorf("relay URL for %s is not configured", c.Env)
	}

	return strings.TrimRight(url, "/"), nil
}

// ResolvePath converts a relative path to absolute path if needed,
// relative to the directory of the config file in use
func ResolvePath(v *viper.Viper, path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("error getting home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}

	baseDir := ""
	if configFile := v.ConfigFileUsed(); configFile != "" {
		baseDir = filepath.Dir(configFile)
	}
	if !filepath.IsAbs(baseDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("error getting current working directory: %w", err)
		}
		baseDir = filepath.Join(cwd, baseDir)
	}

	return filepath.Join(baseDir, path), nil
}

// MaskToken returns a masked version of the token for display
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
