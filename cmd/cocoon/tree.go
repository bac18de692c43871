package main

import (
	"errors"
	"io"

	"github.com/aretw0/cocoon/internal/cli"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Export the compiled sitemap as a Mermaid diagram",
	Long:  `Prints the sitemap node tree (graph TD). With --path, the nodes matching that request are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tracer := &cli.Tracer{}
		engine, closeStore, err := cli.NewEngine(cfg, newLogger(cfg), nil, tracer.Option())
		if err != nil {
			return err
		}
		defer closeStore()

		if path, _ := cmd.Flags().GetString("path"); path != "" {
			_, err := cli.Process(cmd.Context(), engine, cli.Request{Path: path}, io.Discard)
			var nf *pipeline.ResourceNotFoundError
			if err != nil && !errors.As(err, &nf) {
				return err
			}
		}
		return cli.Tree(cmd.Context(), engine, tracer, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
	treeCmd.Flags().String("path", "", "Request path whose matching nodes are highlighted")
}
