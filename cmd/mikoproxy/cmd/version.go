package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mikoworkspace/mikoproxy/api"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", api.ServerName, api.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
