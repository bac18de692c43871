package main

import (
	"fmt"
	"os"

	"github.com/aretw0/cocoon/internal/cli"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <path>",
	Short: "Process one request and print the page",
	Long:  `Runs a request through the sitemap without a server and writes the response body to stdout.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		pairs, _ := cmd.Flags().GetStringArray("param")
		params, err := cli.ParseParams(pairs)
		if err != nil {
			return fmt.Errorf("invalid --param: %w", err)
		}
		user, _ := cmd.Flags().GetString("user")

		logger := newLogger(cfg)
		engine, closeStore, err := cli.NewEngine(cfg, logger, nil)
		if err != nil {
			return err
		}
		defer closeStore()

		resp, err := cli.Process(cmd.Context(), engine, cli.Request{Path: args[0], Params: params, User: user}, os.Stdout)
		if err != nil {
			return err
		}
		if resp.Redirect != "" {
			fmt.Fprintf(os.Stderr, "redirect: %s\n", resp.Redirect)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringArrayP("param", "p", nil, "Request parameter as name=value (repeatable)")
	processCmd.Flags().StringP("user", "u", "", "Portal user")
}
