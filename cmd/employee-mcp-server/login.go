package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/employee-mcp-server/internal/client"
)

type loginOptions struct {
	serverURL         string
	clientID          string
	redirectURI       string
	scopes            []string
	registrationToken string
	output            string
	logLevel          string
}

// loginResult is what login prints
type loginResult struct {
	ClientID     string    `json:"client_id"`
	Scope        string    `json:"scope"`
	TokenType    string    `json:"token_type"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

func newLoginCmd() *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an access token from a running server",
		Long: `Obtain an access token from a running employee-mcp-server.

login discovers the authorization server, registers a public client unless
--client-id is given, and completes the authorization code flow with PKCE.
The resulting tokens are printed for use as an MCP bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.serverURL, "server", envString("BASE_URL", fmt.Sprintf("http://localhost:%d", defaultPort)), "Base URL of the server (env BASE_URL)")
	f.StringVar(&opts.clientID, "client-id", "", "Existing client ID; empty registers a new client")
	f.StringVar(&opts.redirectURI, "redirect-uri", client.DefaultRedirectURI, "Redirect URI registered for the client")
	f.StringSliceVar(&opts.scopes, "scope", nil, "Scope to request (repeatable); empty requests the server defaults")
	f.StringVar(&opts.registrationToken, "registration-token", envString("REGISTRATION_TOKEN", ""), "Registration access token (env REGISTRATION_TOKEN)")
	f.StringVarP(&opts.output, "output", "o", "text", "Output format: text or json")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")

	return cmd
}

func runLogin(ctx context.Context, out, logOutput io.Writer, opts loginOptions) error {
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("invalid output format %q: must be text or json", opts.output)
	}
	logger, err := newLogger(opts.logLevel, "text", logOutput)
	if err != nil {
		return err
	}

	c, err := client.New(client.Config{
		ServerURL:         opts.serverURL,
		ClientID:          opts.clientID,
		RedirectURI:       opts.redirectURI,
		Scopes:            opts.scopes,
		RegistrationToken: opts.registrationToken,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	session, err := c.Login(ctx)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	return printLogin(out, opts.output, loginResult{
		ClientID:     session.ClientID,
		Scope:        session.Scope,
		TokenType:    session.Token.TokenType,
		AccessToken:  session.Token.AccessToken,
		RefreshToken: session.Token.RefreshToken,
		Expiry:       session.Token.Expiry,
	})
}

func printLogin(w io.Writer, format string, r loginResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	_, err := fmt.Fprintf(w, "client_id:     %s\nscope:         %s\naccess_token:  %s\nrefresh_token: %s\nexpires:       %s\n",
		r.ClientID, r.Scope, r.AccessToken, r.RefreshToken, r.Expiry.Format(time.RFC3339))
	return err
}
