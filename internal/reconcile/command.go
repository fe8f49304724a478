package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Linhhh07/Iot/internal/device"
	"github.com/Linhhh07/Iot/internal/mqtt"
	"github.com/Linhhh07/Iot/internal/observability"
)

const StatusSent = "sent"

var (
	ErrEmptyDeviceID   = errors.New("device id is required")
	ErrInvalidDeviceID = errors.New("device id must not contain '+', '#', '/' or NUL")
)

// CommandResult acknowledges that a command left for the device. It says nothing
// about the device obeying it; that shows up later as a status report.
type CommandResult struct {
	Device    string       `json:"device"`
	Requested device.State `json:"requested"`
	Status    string       `json:"status"`
}

type Commander struct {
	states    stateSource
	publisher mqtt.Publisher
	topics    device.Topics
	timeout   time.Duration
}

func NewCommander(st Store, cache StateCache, pub mqtt.Publisher, topics device.Topics, queryTimeout time.Duration) *Commander {
	return &Commander{
		states:    stateSource{store: st, cache: cache},
		publisher: pub,
		topics:    topics,
		timeout:   queryTimeout,
	}
}

// Toggle publishes a set-state command. A non-empty action maps to ON when it is
// "on" in any case and OFF otherwise; an empty action inverts the last logged
// state, with OFF assumed for devices that have no history.
func (c *Commander) Toggle(ctx context.Context, deviceID, action string) (CommandResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return CommandResult{}, ErrEmptyDeviceID
	}
	// The id becomes one topic level; wildcards are illegal in a publish topic.
	if strings.ContainsAny(deviceID, "+#/\x00") {
		return CommandResult{}, fmt.Errorf("%w: %q", ErrInvalidDeviceID, deviceID)
	}

	var next device.State
	if strings.TrimSpace(action) != "" {
		next = device.ActionState(action)
	} else {
		qctx, cancel := withTimeout(ctx, c.timeout)
		current, found, err := c.states.last(qctx, deviceID)
		cancel()
		if err != nil {
			return CommandResult{}, fmt.Errorf("read last state of %s: %w", deviceID, err)
		}
		if !found {
			current = device.StateOff
		}
		next = current.Invert()
	}

	topic := c.topics.Control(deviceID)
	if err := c.publisher.Publish(topic, []byte(next)); err != nil {
		observability.CommandsTotal.WithLabelValues("toggle", "error").Inc()
		return CommandResult{}, fmt.Errorf("send command to %s: %w", deviceID, err)
	}
	observability.CommandsTotal.WithLabelValues("toggle", "sent").Inc()
	slog.Info("sent control", "topic", topic, "state", next)

	return CommandResult{Device: deviceID, Requested: next, Status: StatusSent}, nil
}
