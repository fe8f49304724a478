package store

import (
	"time"

	"gorm.io/datatypes"

	"github.com/Linhhh07/Iot/internal/device"
)

// SensorReading is one accepted sample from the ESP sensor topic.
type SensorReading struct {
	ID          uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Temperature float64        `gorm:"not null" json:"temperature"`
	Humidity    int            `gorm:"not null" json:"humidity"`
	Light       float64        `gorm:"not null" json:"light"`
	Raw         datatypes.JSON `json:"-"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}

func (SensorReading) TableName() string { return "sensor_data" }

// DeviceStatus is one entry of a device's transition log. Consecutive rows of
// the same device never carry the same state.
type DeviceStatus struct {
	ID         uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceName string       `gorm:"size:50;not null;index:idx_device_created,priority:1" json:"device_name"`
	State      device.State `gorm:"size:3;not null" json:"state"`
	CreatedAt  time.Time    `gorm:"not null;index:idx_device_created,priority:2" json:"created_at"`
}

func (DeviceStatus) TableName() string { return "device_history" }

func allModels() []any {
	return []any{&SensorReading{}, &DeviceStatus{}}
}
