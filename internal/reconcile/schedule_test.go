package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct{ n atomic.Int32 }

func (c *countingRunner) Resync(context.Context) (Report, error) {
	c.n.Add(1)
	return Report{}, nil
}

func TestSchedulerRunsResync(t *testing.T) {
	r := &countingRunner{}
	s, err := NewScheduler(r, "@every 1s", time.Second)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for r.n.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled resync never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	if _, err := NewScheduler(&countingRunner{}, "whenever", time.Second); err == nil {
		t.Fatal("expected bad cron spec to be rejected")
	}
}
