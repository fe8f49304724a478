package device

import (
	"errors"
	"strings"
)

// State is the two-valued power state of an ESP-controlled device.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

var ErrUnknownState = errors.New("unknown device state")

// ParseState trims and upper-cases raw before matching it against ON/OFF.
func ParseState(raw string) (State, error) {
	switch State(strings.ToUpper(strings.TrimSpace(raw))) {
	case StateOn:
		return StateOn, nil
	case StateOff:
		return StateOff, nil
	default:
		return "", ErrUnknownState
	}
}

// ActionState maps an operator-supplied action to a state. Anything that is not
// "on" (any case) is OFF.
func ActionState(action string) State {
	if strings.EqualFold(strings.TrimSpace(action), string(StateOn)) {
		return StateOn
	}
	return StateOff
}

func (s State) Invert() State {
	if s == StateOn {
		return StateOff
	}
	return StateOn
}

func (s State) Valid() bool { return s == StateOn || s == StateOff }

func (s State) String() string { return string(s) }
