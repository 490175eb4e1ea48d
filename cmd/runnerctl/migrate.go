package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/runnerz/internal/persistence"
	"example.com/runnerz/internal/persistence/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres schema migrations",
		Long: `Apply every embedded migration that has not yet been recorded in
schema_migrations. The SQLite store creates its schema on open, so this
command only acts on the postgres driver.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := setupSignalHandler()
			defer cancel()

			store, err := openStore(ctx, false)
			if err != nil {
				return err
			}
			defer store.Close()

			if store.Driver != persistence.DriverPostgres {
				fmt.Fprintf(cmd.OutOrStdout(), "%s store needs no migrations\n", store.Driver)
				return nil
			}

			applied, err := postgres.Migrate(ctx, store.Pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", version)
			}
			return nil
		},
	}
}
