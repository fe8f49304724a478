// Package ingest routes normalized transport messages to persistence, the state
// reconciler and the resync coordinator.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/Linhhh07/Iot/internal/device"
	"github.com/Linhhh07/Iot/internal/observability"
	"github.com/Linhhh07/Iot/internal/realtime"
	"github.com/Linhhh07/Iot/internal/reconcile"
	"github.com/Linhhh07/Iot/internal/store"
)

type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

type SensorStore interface {
	InsertSensorReading(ctx context.Context, s *store.SensorReading) error
}

type StatusReconciler interface {
	Reconcile(ctx context.Context, ev device.StatusEvent) (reconcile.Outcome, error)
}

type Resyncer interface {
	Resync(ctx context.Context) (reconcile.Report, error)
}

type Notifier interface {
	Broadcast(ev realtime.Event)
}

// SensorNotification is the payload of a new_sensor event.
type SensorNotification struct {
	Temperature float64   `json:"temperature"`
	Humidity    int       `json:"humidity"`
	Light       float64   `json:"light"`
	CreatedAt   time.Time `json:"created_at"`
}

type Ingestor struct {
	Sensors      SensorStore
	States       StatusReconciler
	Resync       Resyncer
	Notifier     Notifier
	Topics       device.Topics
	AllowRetains bool
	Tracer       trace.Tracer
	// ResyncTimeout bounds one announcement-triggered resync pass. Zero means
	// the pass runs until ctx is done.
	ResyncTimeout time.Duration

	resyncing atomic.Bool
	resyncWG  sync.WaitGroup
}

func (i *Ingestor) tracer() trace.Tracer {
	if i.Tracer != nil {
		return i.Tracer
	}
	return otel.Tracer("iot-bridge/ingest")
}

// HandleMessage processes one message to completion. Failures are logged and
// counted; nothing is returned because the transport cannot act on them.
func (i *Ingestor) HandleMessage(ctx context.Context, msg MQTTMessage, receivedAt time.Time) {
	topic := msg.Topic()
	if msg.Retained() && !i.AllowRetains {
		slog.Debug("ingest ignoring retained", "topic", topic)
		observability.MessagesTotal.WithLabelValues("retained", "ignored").Inc()
		return
	}

	ev, err := device.Normalize(i.Topics, topic, msg.Payload())
	if err != nil {
		slog.Warn("ingest dropped message", "topic", topic, "error", err)
		observability.MessagesTotal.WithLabelValues(kindOf(i.Topics, topic), "invalid").Inc()
		return
	}

	ctx, span := i.tracer().Start(ctx, "ingest.message", trace.WithAttributes(attribute.String("mqtt.topic", topic)))
	defer span.End()

	var kind string
	switch e := ev.(type) {
	case device.SensorEvent:
		kind, err = "sensor", i.handleSensor(ctx, e, receivedAt)
	case device.StatusEvent:
		kind = "status"
		span.SetAttributes(attribute.String("device.name", e.DeviceName))
		_, err = i.States.Reconcile(ctx, e)
	case device.AnnouncementEvent:
		kind, err = "hello", i.handleAnnouncement(ctx)
	default:
		observability.MessagesTotal.WithLabelValues("unknown", "ignored").Inc()
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.MessagesTotal.WithLabelValues(kind, "error").Inc()
		slog.Error("ingest failed", "kind", kind, "topic", topic, "error", err)
		return
	}
	observability.MessagesTotal.WithLabelValues(kind, "ok").Inc()
}

func (i *Ingestor) handleSensor(ctx context.Context, e device.SensorEvent, receivedAt time.Time) error {
	rec := &store.SensorReading{
		Temperature: e.Temperature,
		Humidity:    e.Humidity,
		Light:       e.Light,
		Raw:         datatypes.JSON(append([]byte(nil), e.Raw...)),
		CreatedAt:   receivedAt.UTC(),
	}
	if err := i.Sensors.InsertSensorReading(ctx, rec); err != nil {
		return err
	}
	slog.Debug("sensor reading stored", "id", rec.ID, "temperature", rec.Temperature, "humidity", rec.Humidity, "light", rec.Light)
	if i.Notifier != nil {
		i.Notifier.Broadcast(realtime.Event{
			Type: realtime.EventNewSensor,
			Data: SensorNotification{Temperature: rec.Temperature, Humidity: rec.Humidity, Light: rec.Light, CreatedAt: rec.CreatedAt},
		})
	}
	return nil
}

// handleAnnouncement starts a resync pass off the dispatcher worker, so status
// reports sharded to the same worker keep flowing while commands go out. At
// most one pass runs at a time; announcements arriving meanwhile are skipped.
func (i *Ingestor) handleAnnouncement(ctx context.Context) error {
	if i.Resync == nil {
		return errors.New("resync not configured")
	}
	if !i.resyncing.CompareAndSwap(false, true) {
		slog.Info("device announced, resync already running")
		return nil
	}
	slog.Info("device announced, resyncing states")

	i.resyncWG.Add(1)
	go func() {
		defer i.resyncWG.Done()
		defer i.resyncing.Store(false)

		rctx, cancel := ctx, context.CancelFunc(func() {})
		if i.ResyncTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, i.ResyncTimeout)
		}
		defer cancel()

		rep, err := i.Resync.Resync(rctx)
		if err != nil {
			slog.Error("resync failed", "error", err)
			return
		}
		slog.Info("resync finished", "devices", rep.Devices, "sent", rep.Sent, "failed", rep.Failed)
	}()
	return nil
}

// Wait blocks until a running resync pass has finished.
func (i *Ingestor) Wait() {
	i.resyncWG.Wait()
}

func kindOf(t device.Topics, topic string) string {
	switch {
	case topic == t.Sensor():
		return "sensor"
	case topic == t.Hello():
		return "hello"
	default:
		return "status"
	}
}

// ShardKey picks the ordering key for a topic: the device name for status
// topics, so one device's reports stay in order, and the topic otherwise.
func ShardKey(t device.Topics, topic string) string {
	if name, err := device.ParseDeviceName(t, topic); err == nil {
		return name
	}
	return topic
}

// Handler returns a transport callback that copies each message off the
// transport goroutine into d. Processing uses ctx.
func (i *Ingestor) Handler(ctx context.Context, d *Dispatcher) func(MQTTMessage) {
	return func(m MQTTMessage) {
		msg := snapshot{topic: m.Topic(), payload: append([]byte(nil), m.Payload()...), retained: m.Retained()}
		receivedAt := time.Now().UTC()
		err := d.Submit(ctx, ShardKey(i.Topics, msg.topic), func() {
			i.HandleMessage(ctx, msg, receivedAt)
		})
		if err != nil {
			observability.MessagesTotal.WithLabelValues(kindOf(i.Topics, msg.topic), "dropped").Inc()
			slog.Warn("ingest queue rejected message", "topic", msg.topic, "error", err)
		}
	}
}

type snapshot struct {
	topic    string
	payload  []byte
	retained bool
}

func (s snapshot) Topic() string   { return s.topic }
func (s snapshot) Payload() []byte { return s.payload }
func (s snapshot) Retained() bool  { return s.retained }
