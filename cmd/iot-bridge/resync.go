package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Linhhh07/Iot/internal/device"
	"github.com/Linhhh07/Iot/internal/mqtt"
	"github.com/Linhhh07/Iot/internal/reconcile"
)

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Publish every device's last logged state once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo, closeDB, err := openRepo()
		if err != nil {
			return err
		}
		defer closeDB()

		mq, err := mqtt.Connect(cfg.MQTTOptions())
		if err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		defer mq.Close()

		r := reconcile.NewResyncer(repo, mq, device.NewTopics(cfg.MQTT.TopicRoot), cfg.QueryTimeout)
		rep, err := r.Resync(cmd.Context())
		if err != nil {
			return err
		}
		slog.Info("resync finished", "devices", rep.Devices, "sent", rep.Sent, "failed", rep.Failed)
		if rep.Failed > 0 {
			return fmt.Errorf("%d of %d devices could not be resynced", rep.Failed, rep.Devices)
		}
		return nil
	},
}
