package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratopt/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stratopt version %s\n", config.GetVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
