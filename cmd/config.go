package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/longkey1/llmrelay/internal/config"
)

const configFields = "configfile, env, listen_port, relay_url, openai_base_url, openai_token, anthropic_base_url, anthropic_token, gemini_base_url, gemini_token, idle_timeout, log_level, model, prefs_file"

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config [field]",
	Short: "Display current configuration",
	Long: `Display the current configuration values.
This command shows all configuration values loaded from the config file and environment variables.
Tokens are masked.

If a field name is specified, only that field's value is displayed.
Available fields: ` + configFields + `

Examples:
  llmrelay config               # Show all configuration
  llmrelay config relay_url     # Show the relay URL used by chat
  llmrelay config openai_token  # Show only the OpenAI token (masked)`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		relayURL, err := cfg.RelayURL()
		if err != nil {
			relayURL = "(" + err.Error() + ")"
		}

		fields := []struct {
			name  string
			label string
			value string
		}{
			{"configfile", "ConfigFile", viper.ConfigFileUsed()},
			{"env", "Env", cfg.Env},
			{"listen_port", "ListenPort", fmt.Sprint(cfg.ListenPort)},
			{"relay_url", "RelayURL", relayURL},
			{"openai_base_url", "OpenAIBaseURL", cfg.OpenAIBaseURL},
			{"openai_token", "OpenAIToken", config.MaskToken(cfg.OpenAIToken)},
			{"anthropic_base_url", "AnthropicBaseURL", cfg.AnthropicBaseURL},
			{"anthropic_token", "AnthropicToken", config.MaskToken(cfg.AnthropicToken)},
			{"gemini_base_url", "GeminiBaseURL", cfg.GeminiBaseURL},
			{"gemini_token", "GeminiToken", config.MaskToken(cfg.GeminiToken)},
			{"idle_timeout", "IdleTimeout", cfg.IdleTimeout},
			{"log_level", "LogLevel", cfg.LogLevel},
			{"model", "Model", cfg.Model},
			{"prefs_file", "PrefsFile", cfg.PrefsFile},
		}

		if len(args) > 0 {
			field := strings.ToLower(args[0])
			for _, f := range fields {
				if f.name == field || strings.ReplaceAll(f.name, "_", "") == field {
					fmt.Println(f.value)
					return nil
				}
			}
			fmt.Fprintf(os.Stderr, "Available fields: %s\n", configFields)
			return fmt.Errorf("unknown field: %s", args[0])
		}

		for _, f := range fields {
			fmt.Printf("%s: %s\n", f.label, f.value)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
