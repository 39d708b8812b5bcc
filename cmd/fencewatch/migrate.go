package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the geofence catalog schema to the latest version.

Every other command migrates on startup as well; this one only reports it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			slog.Info("Database migrations completed", "database", a.store.Path())
			return nil
		},
	}
}
