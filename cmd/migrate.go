package cmd

import (
	"errors"

	"github.com/Abdull600/study-circle-voice/config"
	"github.com/Abdull600/study-circle-voice/stores/postgres"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <command> [args...]",
	Short: "Run postgres database migrations (up, down, status, ...)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Storage.PostgresURL == "" {
			return errors.New("POSTGRES_URL must be set to run migrations")
		}

		db, err := postgres.Connect(cmd.Context(), cfg.Storage.PostgresURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close database")
			}
		}()

		return postgres.Migrate(cmd.Context(), db.DB, args[0], args[1:]...)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
