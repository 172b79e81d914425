package main

import (
	"context"

	"github.com/spf13/cobra"
)

const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
)

// rootCmd is the entry point when the binary is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "employee-mcp-server",
	Short: "Employee directory MCP server with an embedded OAuth 2.1 authorization server",
	Long: `employee-mcp-server serves an employee directory to MCP clients over SSE.

Access is protected by an embedded OAuth 2.1 authorization server supporting
dynamic client registration, the authorization code grant with mandatory PKCE
(S256) and refresh tokens.`,
	// Errors are reported by the commands themselves; usage output would only add noise.
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// SetVersion sets the version reported by --version and the version command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd.SetVersionTemplate(`{{printf "employee-mcp-server version %s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return ExitCodeError
	}
	return ExitCodeSuccess
}
