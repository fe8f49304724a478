package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedSensor  = errors.New("malformed sensor payload")
	ErrIncompleteSensor = errors.New("incomplete sensor payload")
	ErrSensorOutOfRange = errors.New("sensor value out of range")
	ErrNotAStatusTopic  = errors.New("not a status topic")
	ErrEmptyDeviceName  = errors.New("empty device name")
)

// Event is one normalized inbound message. The concrete type is one of
// SensorEvent, StatusEvent, AnnouncementEvent or Unrecognized.
type Event interface {
	event()
}

type SensorEvent struct {
	Temperature float64
	Humidity    int
	Light       float64
	Raw         []byte
}

type StatusEvent struct {
	DeviceName string
	State      State
}

// AnnouncementEvent is the "I'm up" signal of the device side. It names no device.
type AnnouncementEvent struct{}

type Unrecognized struct {
	Topic string
}

func (SensorEvent) event()       {}
func (StatusEvent) event()       {}
func (AnnouncementEvent) event() {}
func (Unrecognized) event()      {}

type sensorPayload struct {
	Temp      *float64 `json:"temp"`
	Hum       *float64 `json:"hum"`
	CdsAnalog *float64 `json:"cdsAnalog"`
}

// Normalize parses a raw transport message. It never panics on bad input; callers
// log the returned error and drop the message.
func Normalize(t Topics, topic string, payload []byte) (Event, error) {
	switch {
	case topic == t.Sensor():
		return parseSensor(payload)
	case topic == t.Hello():
		return AnnouncementEvent{}, nil
	case strings.HasPrefix(topic, t.StatusPrefix()):
		name, err := ParseDeviceName(t, topic)
		if err != nil {
			return nil, err
		}
		state, err := ParseState(string(payload))
		if err != nil {
			return nil, fmt.Errorf("device %s: %w: %q", name, err, strings.TrimSpace(string(payload)))
		}
		return StatusEvent{DeviceName: name, State: state}, nil
	default:
		return Unrecognized{Topic: topic}, nil
	}
}

func parseSensor(payload []byte) (Event, error) {
	var p sensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSensor, err)
	}
	if p.Temp == nil || p.Hum == nil || p.CdsAnalog == nil {
		return nil, ErrIncompleteSensor
	}
	// Relative humidity in percent.
	if h := *p.Hum; h < 0 || h > 100 {
		return nil, fmt.Errorf("%w: humidity %v", ErrSensorOutOfRange, h)
	}
	return SensorEvent{
		Temperature: *p.Temp,
		Humidity:    int(*p.Hum),
		Light:       *p.CdsAnalog,
		Raw:         append([]byte(nil), payload...),
	}, nil
}

// ParseDeviceName returns the path segment right after the status prefix, so
// "esp/status/light" and "esp/status/light/extra" both yield "light".
func ParseDeviceName(t Topics, topic string) (string, error) {
	prefix := t.StatusPrefix()
	if !strings.HasPrefix(topic, prefix) {
		return "", ErrNotAStatusTopic
	}
	rest := strings.TrimPrefix(topic, prefix)
	name, _, _ := strings.Cut(rest, "/")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyDeviceName
	}
	return name, nil
}
