package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/Linhhh07/Iot/internal/store"
)

var errInvalidTimeFormat = errors.New("invalid time format")

// timeLayout pairs a wall-clock layout with the span of time one value covers.
type timeLayout struct {
	layout string
	span   func(time.Time) time.Time
}

var (
	addDay    = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	addMonth  = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	addHour   = func(t time.Time) time.Time { return t.Add(time.Hour) }
	addMinute = func(t time.Time) time.Time { return t.Add(time.Minute) }
	addSecond = func(t time.Time) time.Time { return t.Add(time.Second) }
)

// filterLayouts are the formats accepted by the time query parameter.
var filterLayouts = []timeLayout{
	{"2006-01-02", addDay},
	{"2006-01-02 15:04", addMinute},
	{"2006-01-02 15:04:05", addSecond},
}

// prefixLayouts are the timestamp prefixes a free-text search may carry.
var prefixLayouts = append([]timeLayout{
	{"2006-01", addMonth},
	{"2006-01-02 15", addHour},
}, filterLayouts...)

func parseWindow(raw string, loc *time.Location, layouts []timeLayout) (store.TimeWindow, error) {
	raw = strings.TrimSpace(raw)
	for _, l := range layouts {
		if len(raw) != len(l.layout) {
			continue
		}
		t, err := time.ParseInLocation(l.layout, raw, loc)
		if err != nil {
			continue
		}
		return store.TimeWindow{From: t, To: l.span(t)}, nil
	}
	return store.TimeWindow{}, errInvalidTimeFormat
}

// parseTimeFilter reads a time parameter as the whole day, minute or second it
// names in loc.
func parseTimeFilter(raw string, loc *time.Location) (store.TimeWindow, error) {
	return parseWindow(raw, loc, filterLayouts)
}

func parseTimePrefix(raw string, loc *time.Location) (store.TimeWindow, error) {
	return parseWindow(raw, loc, prefixLayouts)
}

// clockLayouts are the bare times of day a free-text search may carry.
var clockLayouts = []timeLayout{
	{"15:04", addMinute},
	{"15:04:05", addSecond},
}

// parseClock reads a time of day in loc, on any date, as the matching UTC
// clock window. The zone offset in effect now is used.
func parseClock(raw string, loc *time.Location) (store.ClockWindow, error) {
	w, err := parseWindow(raw, time.UTC, clockLayouts)
	if err != nil {
		return store.ClockWindow{}, err
	}
	_, offset := time.Now().In(loc).Zone()
	since := time.Duration(w.From.Hour())*time.Hour +
		time.Duration(w.From.Minute())*time.Minute +
		time.Duration(w.From.Second())*time.Second -
		time.Duration(offset)*time.Second
	return store.ClockWindow{From: since, To: since + w.To.Sub(w.From)}, nil
}
