package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"animehub/internal/auth"
	"animehub/pkg/database"
	"animehub/pkg/utils"
)

// newAdminCommand works on the local database instead of the API, so the
// first admin can be created before anyone is able to log in.
func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts in the local database",
	}

	var username, email, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := utils.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(db); err != nil {
				return err
			}

			a, err := auth.NewRepo(db).CreateAdmin(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", a.Username, a.ID)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "Username")
	create.Flags().StringVar(&email, "email", "", "Email")
	create.Flags().StringVar(&password, "password", "", "Password (8-72 chars)")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("password")

	list := &cobra.Command{
		Use:   "list",
		Short: "List admin accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := utils.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			admins, err := auth.NewRepo(db).List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(admins))
			for _, a := range admins {
				rows = append(rows, []string{a.ID, a.Username, a.Email, a.CreatedAt.Local().Format("2006-01-02")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Username", "Email", "Created"}, rows, nil))
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
