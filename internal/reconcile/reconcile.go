// Package reconcile owns the device state rules: turning status reports into a
// transition log, replaying the log to devices after they reconnect, and
// resolving operator toggle commands.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Linhhh07/Iot/internal/device"
	"github.com/Linhhh07/Iot/internal/observability"
	"github.com/Linhhh07/Iot/internal/realtime"
	"github.com/Linhhh07/Iot/internal/store"
)

// Store is the slice of the history repository the state rules need.
type Store interface {
	LastDeviceState(ctx context.Context, name string) (*store.DeviceStatus, error)
	AppendDeviceState(ctx context.Context, name string, state device.State) (*store.DeviceStatus, error)
	LatestDeviceStates(ctx context.Context, window *store.TimeWindow) ([]store.DeviceStatus, error)
}

// StateCache is an optional read-through mirror of each device's newest logged state.
type StateCache interface {
	Get(ctx context.Context, name string) (device.State, bool, error)
	Set(ctx context.Context, name string, state device.State) error
	Delete(ctx context.Context, name string) error
}

type Notifier interface {
	Broadcast(ev realtime.Event)
}

// StatusNotification is the payload of a device_status event.
type StatusNotification struct {
	Device    string       `json:"device"`
	State     device.State `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

// Outcome describes what Reconcile did with one status event.
type Outcome struct {
	DeviceName string
	State      device.State
	// Previous is empty when the device had no history.
	Previous device.State
	Stored   bool
	Record   *store.DeviceStatus
}

type Reconciler struct {
	states   stateSource
	store    Store
	notifier Notifier
	locks    keyedMutex
	now      func() time.Time
}

// NewReconciler wires the reconciler. cache and notifier may be nil.
func NewReconciler(st Store, cache StateCache, notifier Notifier) *Reconciler {
	return &Reconciler{
		states:   stateSource{store: st, cache: cache},
		store:    st,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile appends ev to the device's transition log when it differs from the
// last logged state and broadcasts the reported state either way. Events for the
// same device are serialised. A store failure writes and broadcasts nothing.
func (r *Reconciler) Reconcile(ctx context.Context, ev device.StatusEvent) (Outcome, error) {
	if !ev.State.Valid() {
		return Outcome{}, fmt.Errorf("device %s: %w: %q", ev.DeviceName, device.ErrUnknownState, ev.State)
	}
	unlock := r.locks.Lock(ev.DeviceName)
	defer unlock()

	prev, found, err := r.states.last(ctx, ev.DeviceName)
	if err != nil {
		return Outcome{}, fmt.Errorf("read last state of %s: %w", ev.DeviceName, err)
	}

	out := Outcome{DeviceName: ev.DeviceName, State: ev.State}
	if found {
		out.Previous = prev
	}

	if !found || prev != ev.State {
		rec, err := r.store.AppendDeviceState(ctx, ev.DeviceName, ev.State)
		if err != nil {
			return Outcome{}, fmt.Errorf("append state of %s: %w", ev.DeviceName, err)
		}
		out.Stored = true
		out.Record = rec
		r.states.remember(ctx, ev.DeviceName, ev.State)
		observability.TransitionsTotal.WithLabelValues("stored").Inc()
		slog.Info("device transition stored", "device", ev.DeviceName, "from", prev, "to", ev.State)
	} else {
		observability.TransitionsTotal.WithLabelValues("suppressed").Inc()
		slog.Debug("device state unchanged, skip insert", "device", ev.DeviceName, "state", ev.State)
	}

	if r.notifier != nil {
		r.notifier.Broadcast(realtime.Event{
			Type: realtime.EventDeviceStatus,
			Data: StatusNotification{Device: ev.DeviceName, State: ev.State, CreatedAt: r.now()},
		})
	}
	return out, nil
}

// stateSource answers "what is the last logged state of this device", consulting
// the cache before the store.
type stateSource struct {
	store Store
	cache StateCache
}

func (s stateSource) last(ctx context.Context, name string) (device.State, bool, error) {
	if s.cache != nil {
		st, ok, err := s.cache.Get(ctx, name)
		if err != nil {
			slog.Warn("state cache read failed, using store", "device", name, "error", err)
		} else if ok {
			return st, true, nil
		}
	}

	rec, err := s.store.LastDeviceState(ctx, name)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, name, rec.State); err != nil {
			slog.Warn("state cache fill failed", "device", name, "error", err)
		}
	}
	return rec.State, true, nil
}

// remember records a freshly logged state. If the cache cannot be updated the
// entry is dropped so a stale value never masks the store.
func (s stateSource) remember(ctx context.Context, name string, state device.State) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, name, state); err != nil {
		slog.Warn("state cache update failed", "device", name, "error", err)
		if err := s.cache.Delete(ctx, name); err != nil {
			slog.Error("state cache evict failed", "device", name, "error", err)
		}
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
