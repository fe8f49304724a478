package device

import (
	"errors"
	"slices"
	"testing"
)

var topics = NewTopics("esp")

func TestNormalizeSensor(t *testing.T) {
	payload := `{"temp":27.5,"hum":61.9,"cdsAnalog":812}`
	ev, err := Normalize(topics, "esp/sensor", []byte(payload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	s, ok := ev.(SensorEvent)
	if !ok {
		t.Fatalf("expected SensorEvent, got %T", ev)
	}
	if s.Temperature != 27.5 || s.Humidity != 61 || s.Light != 812 {
		t.Fatalf("unexpected reading: %+v", s)
	}
	if string(s.Raw) != payload {
		t.Fatalf("raw payload not kept: %s", s.Raw)
	}
}

func TestNormalizeSensorRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `hello`, ErrMalformedSensor},
		{"truncated", `{"temp":1`, ErrMalformedSensor},
		{"missing light", `{"temp":1,"hum":2}`, ErrIncompleteSensor},
		{"null humidity", `{"temp":1,"hum":null,"cdsAnalog":3}`, ErrIncompleteSensor},
		{"empty object", `{}`, ErrIncompleteSensor},
		{"huge humidity", `{"temp":1,"hum":1e30,"cdsAnalog":2}`, ErrSensorOutOfRange},
		{"negative humidity", `{"temp":1,"hum":-5,"cdsAnalog":2}`, ErrSensorOutOfRange},
		{"humidity above 100", `{"temp":1,"hum":100.5,"cdsAnalog":2}`, ErrSensorOutOfRange},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev, err := Normalize(topics, "esp/sensor", []byte(c.payload))
			if ev != nil {
				t.Fatalf("expected no event, got %+v", ev)
			}
			if !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
		})
	}
}

func TestNormalizeSensorHumidityBounds(t *testing.T) {
	for _, hum := range []string{"0", "100", "99.9"} {
		ev, err := Normalize(topics, "esp/sensor", []byte(`{"temp":1,"hum":`+hum+`,"cdsAnalog":2}`))
		if err != nil {
			t.Fatalf("hum %s: %v", hum, err)
		}
		if h := ev.(SensorEvent).Humidity; h < 0 || h > 100 {
			t.Fatalf("hum %s: got %d", hum, h)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	ev, err := Normalize(topics, "esp/status/light", []byte("  on \n"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if want := (StatusEvent{DeviceName: "light", State: StateOn}); ev != want {
		t.Fatalf("expected %+v, got %+v", want, ev)
	}

	ev, err = Normalize(topics, "esp/status/fan/extra", []byte("Off"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if want := (StatusEvent{DeviceName: "fan", State: StateOff}); ev != want {
		t.Fatalf("expected %+v, got %+v", want, ev)
	}
}

func TestNormalizeStatusRejectsUnknownLabels(t *testing.T) {
	for _, payload := range []string{"", "   ", "blinking", "1"} {
		if _, err := Normalize(topics, "esp/status/light", []byte(payload)); !errors.Is(err, ErrUnknownState) {
			t.Fatalf("payload %q: expected ErrUnknownState, got %v", payload, err)
		}
	}
}

func TestNormalizeStatusRequiresDeviceName(t *testing.T) {
	if _, err := Normalize(topics, "esp/status/", []byte("ON")); !errors.Is(err, ErrEmptyDeviceName) {
		t.Fatalf("expected ErrEmptyDeviceName, got %v", err)
	}
}

func TestNormalizeAnnouncementAndUnknown(t *testing.T) {
	ev, err := Normalize(topics, "esp/hello", []byte("whatever"))
	if err != nil || ev != (AnnouncementEvent{}) {
		t.Fatalf("expected announcement, got %+v, %v", ev, err)
	}

	ev, err = Normalize(topics, "esp/control/light", []byte("ON"))
	if err != nil || ev != (Unrecognized{Topic: "esp/control/light"}) {
		t.Fatalf("expected unrecognized, got %+v, %v", ev, err)
	}
}

func TestParseDeviceName(t *testing.T) {
	if _, err := ParseDeviceName(topics, "other/status/light"); !errors.Is(err, ErrNotAStatusTopic) {
		t.Fatalf("expected ErrNotAStatusTopic, got %v", err)
	}

	name, err := ParseDeviceName(NewTopics("/home/esp/"), "home/esp/status/pump")
	if err != nil || name != "pump" {
		t.Fatalf("expected pump, got %q, %v", name, err)
	}
}

func TestStateHelpers(t *testing.T) {
	if StateOn.Invert() != StateOff || StateOff.Invert() != StateOn {
		t.Fatal("invert is not symmetric")
	}

	actions := map[string]State{"on": StateOn, " ON ": StateOn, "off": StateOff, "toggle": StateOff}
	for in, want := range actions {
		if got := ActionState(in); got != want {
			t.Fatalf("ActionState(%q) = %s, want %s", in, got, want)
		}
	}

	if got := topics.Control("light"); got != "esp/control/light" {
		t.Fatalf("unexpected control topic %q", got)
	}
	if got, want := topics.Subscriptions(), []string{"esp/sensor", "esp/status/#", "esp/hello"}; !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
