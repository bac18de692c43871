package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/cocoon/internal/cli"
	"github.com/aretw0/cocoon/internal/logging"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Serves every request path through the sitemap. /health and /metrics are mounted beside it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("watch") {
			cfg.Watch, _ = cmd.Flags().GetBool("watch")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := logging.NewJSON(os.Stderr, logging.ParseLevel(cfg.LogLevel))
		return cli.Serve(ctx, cfg, logger, nil)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on")
	serveCmd.Flags().BoolP("watch", "w", false, "Rebuild the sitemap when files change")
}
