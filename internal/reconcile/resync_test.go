package reconcile

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/Linhhh07/Iot/internal/device"
)

func seedTransitions(t *testing.T, st *memStore, seq ...device.StatusEvent) {
	t.Helper()
	for _, ev := range seq {
		if _, err := st.AppendDeviceState(context.Background(), ev.DeviceName, ev.State); err != nil {
			t.Fatalf("seed %s: %v", ev.DeviceName, err)
		}
	}
}

func TestResyncPublishesLatestStatePerDevice(t *testing.T) {
	st := &memStore{}
	seedTransitions(t, st,
		status("light", device.StateOn),
		status("fan", device.StateOn),
		status("light", device.StateOff),
		status("fan", device.StateOff),
		status("light", device.StateOn),
	)
	pub := &fakePublisher{}
	r := NewResyncer(st, pub, device.NewTopics(""), 0)

	rep, err := r.Resync(context.Background())
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if rep != (Report{Devices: 2, Sent: 2}) {
		t.Fatalf("unexpected report: %+v", rep)
	}
	got := pub.messages()
	slices.SortFunc(got, func(a, b published) int {
		if a.topic < b.topic {
			return -1
		}
		if a.topic > b.topic {
			return 1
		}
		return 0
	})
	want := []published{
		{topic: "esp/control/fan", payload: "OFF"},
		{topic: "esp/control/light", payload: "ON"},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestResyncContinuesAfterPublishFailure(t *testing.T) {
	st := &memStore{}
	seedTransitions(t, st,
		status("fan", device.StateOn),
		status("light", device.StateOff),
		status("pump", device.StateOn),
	)
	pub := &fakePublisher{failOn: map[string]bool{"esp/control/light": true}}
	r := NewResyncer(st, pub, device.NewTopics(""), 0)

	rep, err := r.Resync(context.Background())
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if rep != (Report{Devices: 3, Sent: 2, Failed: 1}) {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if got := len(pub.messages()); got != 2 {
		t.Fatalf("expected 2 commands, got %d", got)
	}
}

func TestResyncAbortsWhenQueryFails(t *testing.T) {
	st := &memStore{failNext: errors.New("db down")}
	pub := &fakePublisher{}
	r := NewResyncer(st, pub, device.NewTopics(""), 0)

	if _, err := r.Resync(context.Background()); err == nil {
		t.Fatal("expected query failure to abort the pass")
	}
	if got := len(pub.messages()); got != 0 {
		t.Fatalf("expected no commands, got %d", got)
	}
}

func TestResyncEmptyHistory(t *testing.T) {
	pub := &fakePublisher{}
	rep, err := NewResyncer(&memStore{}, pub, device.NewTopics(""), 0).Resync(context.Background())
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if rep != (Report{}) || len(pub.messages()) != 0 {
		t.Fatalf("expected an empty pass, got %+v with %d commands", rep, len(pub.messages()))
	}
}

func TestResyncStopsOnCancel(t *testing.T) {
	st := &memStore{}
	seedTransitions(t, st, status("fan", device.StateOn))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := &fakePublisher{}
	_, err := NewResyncer(st, pub, device.NewTopics(""), 0).Resync(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := len(pub.messages()); got != 0 {
		t.Fatalf("expected no commands, got %d", got)
	}
}
