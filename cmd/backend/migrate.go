package main

import (
	"database/sql"
	"fmt"

	"github.com/medguard-ai/medguard/database"
	"github.com/spf13/cobra"
)

var (
	migrationsPath string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withMigrationDB(func(db *sql.DB, path string) error {
			return database.RunMigrations(db, path)
		})
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withMigrationDB(func(db *sql.DB, path string) error {
			return database.RollbackMigration(db, path)
		})
		if err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Migration rolled back successfully")
		return nil
	},
}

// withMigrationDB connects to the configured mysql database and runs fn.
// An empty migrations path selects the embedded migrations.
func withMigrationDB(fn func(db *sql.DB, path string) error) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != database.DriverMySQL {
		return fmt.Errorf("migrations require the mysql driver, got %q", cfg.Database.Driver)
	}

	db, err := database.Connect(databaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	defer sqlDB.Close()

	path := migrationsPath
	if path == "" {
		path = cfg.Database.MigrationsPath
	}
	return fn(sqlDB, path)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	migrateCmd.PersistentFlags().StringVarP(&migrationsPath, "path", "p", "", "migrations directory path (embedded migrations when empty)")

	rootCmd.AddCommand(migrateCmd)
}
