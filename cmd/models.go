package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/config"
)

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List the model labels and the upstream models they map to",
	Long: `List the model labels accepted by the relay.

The upstream model is the name sent to the provider, after the overrides of
the [models.<provider>] config sections. It is printed as provider:model,
which --model also accepts.

Supported providers: gpt, claude, gemini

Example:
  llmrelay models          # List all models
  llmrelay models claude   # List Anthropic models`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		registry := newRegistry(cfg)

		var provider string
		if len(args) > 0 {
			provider = args[0]
			if _, ok := registry.Lookup(provider); !ok {
				return fmt.Errorf("unsupported provider '%s'\nSupported providers: %s", provider, strings.Join(registry.Names(), ", "))
			}
		}

		type row struct {
			info     chat.ModelInfo
			upstream string
		}
		var rows []row
		labelWidth, upstreamWidth := 15, 15
		for _, m := range chat.Models {
			if provider != "" && m.Provider != provider {
				continue
			}
			adapter, ok := registry.Lookup(m.Provider)
			if !ok {
				continue
			}
			r := row{info: m, upstream: chat.FormatModelString(m.Provider, adapter.ResolveModel(m.Label))}
			labelWidth = max(labelWidth, len(m.Label))
			upstreamWidth = max(upstreamWidth, len(r.upstream))
			rows = append(rows, r)
		}

		fmt.Printf("%-*s  %-8s  %-*s  %-7s  %s\n", labelWidth, "MODEL", "PROVIDER", upstreamWidth, "UPSTREAM MODEL", "DEFAULT", "NAME")
		fmt.Printf("%s  %s  %s  %s  %s\n",
			strings.Repeat("-", labelWidth),
			strings.Repeat("-", 8),
			strings.Repeat("-", upstreamWidth),
			strings.Repeat("-", 7),
			strings.Repeat("-", 20))
		for _, r := range rows {
			defaultMark := ""
			if r.info.Label == cfg.Model {
				defaultMark = "Yes"
			}
			fmt.Printf("%-*s  %-8s  %-*s  %-7s  %s\n",
				labelWidth, r.info.Label,
				r.info.Provider,
				upstreamWidth, r.upstream,
				defaultMark,
				r.info.Name)
		}

		fmt.Printf("\nUse a model with: llmrelay chat --model <model> [message]\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
