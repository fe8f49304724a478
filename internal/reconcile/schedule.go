package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type resyncRunner interface {
	Resync(ctx context.Context) (Report, error)
}

// Scheduler replays device states on a cron schedule in addition to the
// announcement trigger, for devices that reboot without announcing.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler parses spec (standard five-field cron or a @descriptor). Runs
// that overlap a still-running pass are skipped. Each pass is bounded by timeout.
func NewScheduler(r resyncRunner, spec string, timeout time.Duration) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := withTimeout(context.Background(), timeout)
		defer cancel()
		rep, err := r.Resync(ctx)
		if err != nil {
			slog.Error("scheduled resync failed", "error", err)
			return
		}
		slog.Info("scheduled resync finished", "devices", rep.Devices, "sent", rep.Sent, "failed", rep.Failed)
	})
	if err != nil {
		return nil, fmt.Errorf("resync schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running pass to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
