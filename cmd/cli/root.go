package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

type cliContext struct {
	baseURL   string
	tokenPath string
	jsonOut   bool
}

func (c *cliContext) client() *apiClient {
	return newAPIClient(c.baseURL, c.tokenPath)
}

func newRootCommand() *cobra.Command {
	ctx := &cliContext{}

	root := &cobra.Command{
		Use:           "animehub",
		Short:         "Command-line client for the animehub catalog and sync pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&ctx.baseURL, "api", defaultBaseURL, "API base URL")
	root.PersistentFlags().StringVar(&ctx.tokenPath, "token-file", defaultTokenPath(), "Where the login token is stored")
	root.PersistentFlags().BoolVar(&ctx.jsonOut, "json", false, "Print raw JSON instead of tables")

	root.AddCommand(newLoginCommand(ctx))
	root.AddCommand(newLogoutCommand(ctx))
	root.AddCommand(newSyncCommand(ctx))
	root.AddCommand(newReconcileCommand(ctx))
	root.AddCommand(newRunsCommand(ctx))
	root.AddCommand(newStatusCommand(ctx))
	root.AddCommand(newLogsCommand(ctx))
	root.AddCommand(newPendingCommand(ctx))
	root.AddCommand(newTitlesCommand(ctx))
	root.AddCommand(newExportCommand(ctx))
	root.AddCommand(newWatchCommand(ctx))
	root.AddCommand(newAdminCommand())

	return root
}

func newLoginCommand(ctx *cliContext) *cobra.Command {
	var login, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as an admin and save the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if login == "" || password == "" {
				return fmt.Errorf("--login and --password are required")
			}
			c := ctx.client()
			var out struct {
				Token     string `json:"token"`
				ExpiresAt string `json:"expires_at"`
			}
			payload := map[string]string{"login": login, "password": password}
			if err := c.do(cmd.Context(), http.MethodPost, "/auth/login", false, payload, &out); err != nil {
				return err
			}
			if err := c.saveToken(out.Token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in, token expires %s\n", out.ExpiresAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "Username or email")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	return cmd
}

func newLogoutCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := ctx.client()
			// a stale token still gets removed locally
			if err := c.do(cmd.Context(), http.MethodPost, "/auth/logout", true, nil, nil); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "server logout:", err)
			}
			if err := c.clearToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}
