package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratopt/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Creates the candlesticks and optimization run tables in the configured database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		migrator, closeDB, err := openMigrator(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		version, err := migrator.Migrate(cmd.Context())
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database schema at version %d\n", version)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		migrator, closeDB, err := openMigrator(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		version, statuses, err := migrator.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("status check failed: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Current schema version: %d\n\n", version)
		fmt.Fprintln(w, "VERSION\tSTATUS\tDESCRIPTION")
		for _, s := range statuses {
			status := "pending"
			if s.Applied {
				status = "applied"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, status, s.Description)
		}
		return w.Flush()
	},
}

func openMigrator(cmd *cobra.Command) (*db.Migrator, func(), error) {
	sqlDB, err := db.OpenMigrationDB(cmd.Context(), cfg.Database.GetConnString())
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { _ = sqlDB.Close() }
	return db.NewMigrator(sqlDB, nil), closeDB, nil
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
