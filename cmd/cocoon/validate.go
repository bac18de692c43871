package main

import (
	"fmt"

	"github.com/aretw0/cocoon/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the sitemap compiles",
	Long:  `Builds the sitemap and reports the first error with its location.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		engine, closeStore, err := cli.NewEngine(cfg, newLogger(cfg), nil)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := engine.Validate(cmd.Context()); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", engine.URI())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
