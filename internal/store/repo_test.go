package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Linhhh07/Iot/internal/device"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	// Use a unique in-memory DB per test to avoid cross-test contamination.
	dsn := "file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

// steppingClock returns base, base+step, base+2*step, ... on successive calls.
func steppingClock(base time.Time, step time.Duration) func() time.Time {
	next := base
	return func() time.Time {
		cur := next
		next = next.Add(step)
		return cur
	}
}

var base = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

func TestLastDeviceStateEmpty(t *testing.T) {
	repo := openTestRepo(t)
	got, err := repo.LastDeviceState(context.Background(), "light")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no record, got %+v", got)
	}
}

func TestLastDeviceStateBreaksTiesByID(t *testing.T) {
	// Every append lands on the same second, as happens with second-precision columns.
	repo := openTestRepo(t).WithClock(func() time.Time { return base })
	ctx := context.Background()

	for _, st := range []device.State{device.StateOn, device.StateOff, device.StateOn} {
		if _, err := repo.AppendDeviceState(ctx, "light", st); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := repo.AppendDeviceState(ctx, "fan", device.StateOff); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := repo.LastDeviceState(ctx, "light")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if got == nil || got.State != device.StateOn {
		t.Fatalf("expected ON, got %+v", got)
	}
}

func TestLatestDeviceStates(t *testing.T) {
	repo := openTestRepo(t).WithClock(steppingClock(base, time.Minute))
	ctx := context.Background()

	seq := []struct {
		name  string
		state device.State
	}{
		{"light", device.StateOn},
		{"fan", device.StateOn},
		{"light", device.StateOff},
		{"fan", device.StateOff},
		{"light", device.StateOn},
		{"pump", device.StateOff},
	}
	for _, s := range seq {
		if _, err := repo.AppendDeviceState(ctx, s.name, s.state); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rows, err := repo.LatestDeviceStates(ctx, nil)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	want := map[string]device.State{"light": device.StateOn, "fan": device.StateOff, "pump": device.StateOff}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d: %+v", len(want), len(rows), rows)
	}
	for _, r := range rows {
		if want[r.DeviceName] != r.State {
			t.Fatalf("device %s: expected %s, got %s", r.DeviceName, want[r.DeviceName], r.State)
		}
	}

	// Only pump (08:05) and light (08:04) changed last within [08:04, 08:06).
	window := &TimeWindow{From: base.Add(4 * time.Minute), To: base.Add(6 * time.Minute)}
	rows, err = repo.LatestDeviceStates(ctx, window)
	if err != nil {
		t.Fatalf("latest window: %v", err)
	}
	if len(rows) != 2 || rows[0].DeviceName != "light" || rows[1].DeviceName != "pump" {
		t.Fatalf("unexpected window rows: %+v", rows)
	}
}

func TestLatestDeviceStatesCollapsesTimestampTies(t *testing.T) {
	repo := openTestRepo(t).WithClock(func() time.Time { return base })
	ctx := context.Background()
	_, _ = repo.AppendDeviceState(ctx, "light", device.StateOn)
	_, _ = repo.AppendDeviceState(ctx, "light", device.StateOff)

	rows, err := repo.LatestDeviceStates(ctx, nil)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row per device, got %+v", rows)
	}
	if rows[0].State != device.StateOff {
		t.Fatalf("expected the newest row (OFF), got %s", rows[0].State)
	}
}

func seedSensors(t *testing.T, repo *Repo) {
	t.Helper()
	readings := []SensorReading{
		{Temperature: 25.5, Humidity: 60, Light: 300},
		{Temperature: 26, Humidity: 61, Light: 25.5},
		{Temperature: 27, Humidity: 62, Light: 320},
		{Temperature: 28, Humidity: 63, Light: 330},
		{Temperature: 29, Humidity: 64, Light: 340},
	}
	for i := range readings {
		readings[i].CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := repo.InsertSensorReading(context.Background(), &readings[i]); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestSearchSensorsPaging(t *testing.T) {
	repo := openTestRepo(t)
	seedSensors(t, repo)

	page, err := repo.SearchSensors(context.Background(), SensorQuery{Paging: Paging{Page: 2, Limit: 2, Desc: true}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 {
		t.Fatalf("expected total=5 pages=3, got %d/%d", page.Total, page.TotalPages)
	}
	if page.SortKey != "created_at" {
		t.Fatalf("expected default sort key, got %q", page.SortKey)
	}
	if len(page.Rows) != 2 || page.Rows[0].Temperature != 27 || page.Rows[1].Temperature != 26 {
		t.Fatalf("unexpected rows: %+v", page.Rows)
	}
}

func TestSearchSensorsFilters(t *testing.T) {
	repo := openTestRepo(t)
	seedSensors(t, repo)
	ctx := context.Background()

	hum := 62
	page, err := repo.SearchSensors(ctx, SensorQuery{Humidity: &hum})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 1 || page.Rows[0].Temperature != 27 {
		t.Fatalf("unexpected humidity match: %+v", page.Rows)
	}

	v := 25.5
	page, err = repo.SearchSensors(ctx, SensorQuery{AnyValue: &v, Paging: Paging{SortKey: "id"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected temperature and light matches, got %d", page.Total)
	}

	window := TimeWindow{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)}
	page, err = repo.SearchSensors(ctx, SensorQuery{Windows: []TimeWindow{window}, Paging: Paging{SortKey: "temperature"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 2 || page.Rows[0].Temperature != 26 {
		t.Fatalf("unexpected window rows: %+v", page.Rows)
	}
}

func TestSearchSensorsByTimeOfDay(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	for _, at := range []time.Time{
		time.Date(2025, 1, 1, 1, 30, 15, 0, time.UTC),
		time.Date(2025, 1, 2, 1, 30, 45, 0, time.UTC),
		time.Date(2025, 1, 2, 1, 31, 0, 0, time.UTC),
		time.Date(2025, 1, 3, 23, 59, 30, 0, time.UTC),
		time.Date(2025, 1, 4, 0, 0, 10, 0, time.UTC),
	} {
		if err := repo.InsertSensorReading(ctx, &SensorReading{Temperature: 20, Humidity: 50, Light: 1, CreatedAt: at}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	cases := []struct {
		name  string
		clock ClockWindow
		total int64
	}{
		{"minute across days", ClockWindow{From: 90 * time.Minute, To: 91 * time.Minute}, 2},
		{"single second", ClockWindow{From: 91 * time.Minute, To: 91*time.Minute + time.Second}, 1},
		{"wraps midnight", ClockWindow{From: 23*time.Hour + 59*time.Minute, To: 24*time.Hour + time.Minute}, 2},
		{"negative offset", ClockWindow{From: -time.Minute, To: 0}, 1},
		{"no match", ClockWindow{From: 12 * time.Hour, To: 12*time.Hour + time.Minute}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			clock := c.clock
			page, err := repo.SearchSensors(ctx, SensorQuery{Clock: &clock})
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if page.Total != c.total {
				t.Fatalf("expected %d rows, got %d", c.total, page.Total)
			}
		})
	}
}

func TestClockOf(t *testing.T) {
	cases := map[time.Duration]string{
		0:                              "00:00:00",
		90*time.Minute + 5*time.Second: "01:30:05",
		24 * time.Hour:                 "00:00:00",
		-time.Minute:                   "23:59:00",
	}
	for in, want := range cases {
		if got := clockOf(in); got != want {
			t.Fatalf("clockOf(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestSearchSensorsRejectsUnknownSortKey(t *testing.T) {
	repo := openTestRepo(t)
	seedSensors(t, repo)
	page, err := repo.SearchSensors(context.Background(), SensorQuery{Paging: Paging{SortKey: "temperature; DROP TABLE sensor_data"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.SortKey != "created_at" {
		t.Fatalf("expected fallback sort key, got %q", page.SortKey)
	}
}

func TestDeviceHistoryFilters(t *testing.T) {
	repo := openTestRepo(t).WithClock(steppingClock(base, time.Minute))
	ctx := context.Background()
	for _, s := range []struct {
		name  string
		state device.State
	}{
		{"light", device.StateOn},
		{"light", device.StateOff},
		{"fan", device.StateOn},
		{"light", device.StateOn},
	} {
		if _, err := repo.AppendDeviceState(ctx, s.name, s.state); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page, err := repo.DeviceHistory(ctx, HistoryQuery{DeviceName: "All"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 4 {
		t.Fatalf("expected 4 rows, got %d", page.Total)
	}

	page, err = repo.DeviceHistory(ctx, HistoryQuery{DeviceName: "light", State: "on"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 light ON rows, got %d", page.Total)
	}

	page, err = repo.DeviceHistory(ctx, HistoryQuery{DeviceName: "light", StateContains: []string{"ff"}})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 1 || page.Rows[0].State != device.StateOff {
		t.Fatalf("unexpected contains match: %+v", page.Rows)
	}

	page, err = repo.DeviceHistory(ctx, HistoryQuery{
		DeviceName: "light",
		Paging:     Paging{SortKey: "id", Desc: false},
		Window:     &TimeWindow{From: base.Add(time.Minute), To: base.Add(10 * time.Minute)},
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Rows) != 2 || page.Rows[0].State != device.StateOff || page.Rows[1].State != device.StateOn {
		t.Fatalf("unexpected window rows: %+v", page.Rows)
	}
}
