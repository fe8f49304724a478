package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 1000
)

// TimeWindow is the half-open interval [From, To).
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// ClockWindow selects rows by UTC time of day on any date: [From, To) measured
// from midnight. Values are taken modulo 24h, and the window wraps past
// midnight when To <= From.
type ClockWindow struct {
	From time.Duration
	To   time.Duration
}

func clockOf(d time.Duration) string {
	d %= 24 * time.Hour
	if d < 0 {
		d += 24 * time.Hour
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

type Page[T any] struct {
	Page       int
	Limit      int
	Total      int64
	TotalPages int
	SortKey    string
	Desc       bool
	Rows       []T
}

type Paging struct {
	Page    int
	Limit   int
	SortKey string
	Desc    bool
}

func (p Paging) normalized(allowed map[string]bool, fallback string) Paging {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if !allowed[p.SortKey] {
		p.SortKey = fallback
	}
	return p
}

func (p Paging) offset() int { return (p.Page - 1) * p.Limit }

func totalPages(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

type SensorQuery struct {
	Paging
	Temperature *float64
	Humidity    *int
	Light       *float64
	// AnyValue matches a reading whose temperature, humidity or light equals it.
	AnyValue *float64
	// Windows are ANDed together on created_at.
	Windows []TimeWindow
	Clock   *ClockWindow
}

var sensorSortKeys = map[string]bool{"id": true, "temperature": true, "humidity": true, "light": true, "created_at": true}

func (r *Repo) SearchSensors(ctx context.Context, q SensorQuery) (Page[SensorReading], error) {
	paging := q.Paging.normalized(sensorSortKeys, "created_at")

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&SensorReading{})
		if q.Temperature != nil {
			db = db.Where("temperature = ?", *q.Temperature)
		}
		if q.Humidity != nil {
			db = db.Where("humidity = ?", *q.Humidity)
		}
		if q.Light != nil {
			db = db.Where("light = ?", *q.Light)
		}
		if q.AnyValue != nil {
			v := *q.AnyValue
			db = db.Where("(temperature = ? OR humidity = ? OR light = ?)", v, int(v), v)
		}
		if q.Clock != nil {
			db = r.applyClock(db, *q.Clock)
		}
		return applyWindows(db, q.Windows)
	}

	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: paging.SortKey}, Desc: paging.Desc},
	}}
	if paging.SortKey != "id" {
		order.Columns = append(order.Columns, clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: paging.Desc})
	}

	return runPage[SensorReading](ctx, r.db, scope, order, paging)
}

// applyClock compares the UTC time of day of created_at as an HH:MM:SS value.
func (r *Repo) applyClock(db *gorm.DB, w ClockWindow) *gorm.DB {
	col, arg := "time(created_at)", "?"
	switch r.db.Dialector.Name() {
	case "mysql":
		col = "TIME(created_at)"
	case "postgres":
		col, arg = "CAST(created_at AT TIME ZONE 'UTC' AS time)", "CAST(? AS time)"
	}
	from, to := clockOf(w.From), clockOf(w.To)
	if from < to {
		return db.Where(col+" >= "+arg+" AND "+col+" < "+arg, from, to)
	}
	return db.Where("("+col+" >= "+arg+" OR "+col+" < "+arg+")", from, to)
}

type HistoryQuery struct {
	Paging
	// DeviceName empty or "All" selects every device.
	DeviceName string
	State      string
	// StateContains holds substrings the state must contain.
	StateContains []string
	Window        *TimeWindow
}

var historySortKeys = map[string]bool{"id": true, "created_at": true}

func (r *Repo) DeviceHistory(ctx context.Context, q HistoryQuery) (Page[DeviceStatus], error) {
	paging := q.Paging.normalized(historySortKeys, "created_at")

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&DeviceStatus{})
		if name := strings.TrimSpace(q.DeviceName); name != "" && name != "All" {
			db = db.Where("device_name = ?", name)
		}
		if s := strings.TrimSpace(q.State); s != "" {
			db = db.Where("UPPER(state) = ?", strings.ToUpper(s))
		}
		for _, sub := range q.StateContains {
			db = db.Where("UPPER(state) LIKE ?", "%"+strings.ToUpper(sub)+"%")
		}
		if q.Window != nil {
			db = applyWindows(db, []TimeWindow{*q.Window})
		}
		return db
	}

	// id breaks created_at ties in the same direction so pages stay stable.
	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: paging.SortKey}, Desc: paging.Desc},
	}}
	if paging.SortKey != "id" {
		order.Columns = append(order.Columns, clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: paging.Desc})
	}

	return runPage[DeviceStatus](ctx, r.db, scope, order, paging)
}

func applyWindows(db *gorm.DB, windows []TimeWindow) *gorm.DB {
	for _, w := range windows {
		db = db.Where("created_at >= ? AND created_at < ?", w.From.UTC(), w.To.UTC())
	}
	return db
}

func runPage[T any](ctx context.Context, db *gorm.DB, scope func(*gorm.DB) *gorm.DB, order clause.OrderBy, paging Paging) (Page[T], error) {
	var total int64
	if err := db.WithContext(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return Page[T]{}, err
	}

	rows := make([]T, 0, paging.Limit)
	if err := db.WithContext(ctx).Scopes(scope).Clauses(order).
		Limit(paging.Limit).Offset(paging.offset()).
		Find(&rows).Error; err != nil {
		return Page[T]{}, err
	}

	return Page[T]{
		Page:       paging.Page,
		Limit:      paging.Limit,
		Total:      total,
		TotalPages: totalPages(total, paging.Limit),
		SortKey:    paging.SortKey,
		Desc:       paging.Desc,
		Rows:       rows,
	}, nil
}
