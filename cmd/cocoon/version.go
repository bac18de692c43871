package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/cocoon"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of cocoon",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cocoon version %s\n", strings.TrimSpace(cocoon.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
