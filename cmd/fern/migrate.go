package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, sync, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer sync()

			db, err := database.Connect(cmd.Context(), connectionConfig(cfg), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.NewMigrationService(logger, migrationConfig(cfg)).MigratePostgres(db)
		},
	}
}
