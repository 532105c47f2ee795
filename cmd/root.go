package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/longkey1/llmrelay/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "llmrelay",
	Short: "A streaming relay for LLM chat completions",
	Long: `llmrelay forwards chat completions from OpenAI, Anthropic and Gemini
as one uniform server-sent event stream.

Run 'llmrelay serve' to start the relay and 'llmrelay chat' to talk to it.
You can configure the tool using a TOML configuration file.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/llmrelay/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// userConfigDir returns $HOME/.config/llmrelay.
func userConfigDir() string {
	home, err := os.UserHomeDir()
	cobra.CheckErr(err)
	return filepath.Join(home, ".config", "llmrelay")
}

// initConfig reads in a .env file, the config file and ENV variables if set.
func initConfig() {
	// a missing .env is fine
	_ = godotenv.Load()

	viper.SetEnvPrefix("LLMRELAY")
	viper.AutomaticEnv()

	dir := userConfigDir()
	config.SetDefaults(viper.GetViper(), config.NewDefaultConfig(filepath.Join(dir, "prefs.toml")))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/llmrelay")
		viper.AddConfigPath(dir)
		viper.SetConfigType("toml")
		viper.SetConfigName("config")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}

	if verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		fmt.Fprintln(os.Stderr, "  LLMRELAY_ENV:", viper.GetString("env"))
		fmt.Fprintln(os.Stderr, "  LLMRELAY_LISTEN_PORT:", viper.GetInt("listen_port"))
		fmt.Fprintln(os.Stderr, "  LLMRELAY_MODEL:", viper.GetString("model"))
	}
}
