package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Linhhh07/Iot/internal/config"
	"github.com/Linhhh07/Iot/internal/store"
)

const serviceName = "iot-bridge"

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Bridge ESP devices on MQTT to a SQL store and an HTTP/websocket API",
	Long: `iot-bridge stores sensor readings and device state transitions reported over
MQTT, relays operator commands back to devices and restores device state after
a device announces itself.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		setupLogging(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default $CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, migrateCmd, resyncCmd)
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h).With("service", serviceName))
}

// openRepo connects and migrates the database.
func openRepo() (*store.Repo, func(), error) {
	db, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	repo, err := store.New(db)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("db migrate: %w", err)
	}
	return repo, closeDB, nil
}
