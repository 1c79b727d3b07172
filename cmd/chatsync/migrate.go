package main

import (
	"fmt"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the backend schema, change feed triggers and functions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, sync, err := setup()
		if err != nil {
			return err
		}
		defer sync()

		store, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Printf("Schema of %s is up to date\n", cfg.Postgres.DBName)
		return nil
	},
}
