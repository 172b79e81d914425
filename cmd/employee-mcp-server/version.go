package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of employee-mcp-server",
		Long:  `All software has versions. This is employee-mcp-server's.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "employee-mcp-server version %s\n", rootCmd.Version)
		},
	}
}
