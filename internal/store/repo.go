package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Linhhh07/Iot/internal/device"
)

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) (*Repo, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Repo{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// WithClock overrides the server clock used for created_at.
func (r *Repo) WithClock(now func() time.Time) *Repo {
	cp := *r
	cp.now = now
	return &cp
}

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repo) InsertSensorReading(ctx context.Context, s *SensorReading) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now().UTC()
	}
	return r.db.WithContext(ctx).Create(s).Error
}

// LastDeviceState returns the most recent record for name, or nil when the
// device has no history.
func (r *Repo) LastDeviceState(ctx context.Context, name string) (*DeviceStatus, error) {
	var row DeviceStatus
	err := r.db.WithContext(ctx).
		Where("device_name = ?", name).
		Order("created_at DESC").Order("id DESC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repo) AppendDeviceState(ctx context.Context, name string, state device.State) (*DeviceStatus, error) {
	row := &DeviceStatus{DeviceName: name, State: state, CreatedAt: r.now().UTC()}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// LatestDeviceStates returns one row per device: the row holding the device's
// maximum created_at. When window is non-nil only devices whose latest row falls
// inside it are returned.
func (r *Repo) LatestDeviceStates(ctx context.Context, window *TimeWindow) ([]DeviceStatus, error) {
	latest := r.db.Model(&DeviceStatus{}).
		Select("device_name, MAX(created_at) AS max_time").
		Group("device_name")

	q := r.db.WithContext(ctx).
		Table("device_history AS t1").
		Select("t1.id, t1.device_name, t1.state, t1.created_at").
		Joins("INNER JOIN (?) AS t2 ON t1.device_name = t2.device_name AND t1.created_at = t2.max_time", latest)
	if window != nil {
		q = q.Where("t1.created_at >= ? AND t1.created_at < ?", window.From.UTC(), window.To.UTC())
	}

	var rows []DeviceStatus
	if err := q.Order("t1.device_name ASC").Order("t1.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return keepHighestID(rows), nil
}

// keepHighestID collapses created_at ties so each device appears once. rows must
// be ordered by device name, then id ascending.
func keepHighestID(rows []DeviceStatus) []DeviceStatus {
	out := make([]DeviceStatus, 0, len(rows))
	for _, row := range rows {
		if n := len(out); n > 0 && out[n-1].DeviceName == row.DeviceName {
			out[n-1] = row
			continue
		}
		out = append(out, row)
	}
	return out
}
