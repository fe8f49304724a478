package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Linhhh07/Iot/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the sensor_data and device_history tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := store.Open(cfg.StoreOptions())
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := store.Migrate(db); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		slog.Info("database migrated", "driver", cfg.DB.Driver)
		return nil
	},
}
