package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/app"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/migrate"
)

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}

	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrator) error {
			return m.Up()
		}),
	}

	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrator) error {
			return m.Rollback()
		}),
	}

	migrateVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		}),
	}
)

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func withMigrator(fn func(cmd *cobra.Command, m *migrate.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := app.OpenDatabase(cfg.Postgres)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		m, err := app.NewMigrator(db, cfg.Service.Name)
		if err != nil {
			return err
		}
		return fn(cmd, m)
	}
}
