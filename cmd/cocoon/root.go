package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/cocoon/internal/config"
	"github.com/aretw0/cocoon/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "cocoon",
	Short:         "Cocoon is a sitemap driven XML publishing engine",
	Long:          `Cocoon compiles a sitemap into a tree of matchers and pipelines and serves the pages it describes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to cocoon.yaml")
	rootCmd.PersistentFlags().StringP("sitemap", "s", "", "Sitemap file or directory (overrides the config file)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
}

// loadConfig reads the config file, when given, and applies the flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("sitemap") {
		cfg.Sitemap, _ = cmd.Flags().GetString("sitemap")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.New(logging.ParseLevel(cfg.LogLevel))
}
