package main

import (
	"errors"
	"fmt"

	"rfitracker/db/migrations"
	"rfitracker/internal/config"

	"github.com/spf13/cobra"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply embedded goose migrations to the configured Postgres database.
With --down the most recent migration is rolled back.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the latest migration")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return errors.New("migrate requires database.driver=postgres")
	}

	conn, err := migrations.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if migrateDown {
		if err := migrations.Down(conn); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back latest migration")
		return nil
	}
	if err := migrations.Run(conn); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
