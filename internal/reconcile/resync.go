package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Linhhh07/Iot/internal/device"
	"github.com/Linhhh07/Iot/internal/mqtt"
	"github.com/Linhhh07/Iot/internal/observability"
)

// Resyncer replays every device's newest logged state as a control command.
// The announcement that triggers it names no device, so every known device is
// targeted.
type Resyncer struct {
	store     Store
	publisher mqtt.Publisher
	topics    device.Topics
	timeout   time.Duration
}

type Report struct {
	Devices int
	Sent    int
	Failed  int
}

func NewResyncer(st Store, pub mqtt.Publisher, topics device.Topics, queryTimeout time.Duration) *Resyncer {
	return &Resyncer{store: st, publisher: pub, topics: topics, timeout: queryTimeout}
}

// Resync aborts only when the history query fails. Each publish is independent:
// a failed device is logged and counted, and the pass moves on.
func (r *Resyncer) Resync(ctx context.Context) (Report, error) {
	start := time.Now()
	defer func() { observability.ResyncDuration.Observe(time.Since(start).Seconds()) }()

	qctx, cancel := withTimeout(ctx, r.timeout)
	rows, err := r.store.LatestDeviceStates(qctx, nil)
	cancel()
	if err != nil {
		return Report{}, fmt.Errorf("load latest device states: %w", err)
	}

	rep := Report{Devices: len(rows)}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !row.State.Valid() {
			slog.Warn("resync skipping unknown state", "device", row.DeviceName, "state", row.State)
			rep.Failed++
			continue
		}
		topic := r.topics.Control(row.DeviceName)
		if err := r.publisher.Publish(topic, []byte(row.State)); err != nil {
			rep.Failed++
			observability.CommandsTotal.WithLabelValues("resync", "error").Inc()
			slog.Error("resync publish failed", "device", row.DeviceName, "topic", topic, "error", err)
			continue
		}
		rep.Sent++
		observability.CommandsTotal.WithLabelValues("resync", "sent").Inc()
		slog.Info("restored device state", "device", row.DeviceName, "state", row.State)
	}
	return rep, nil
}
