package measurement

import "time"

type Type string

const (
	TypeHumidity    Type = "humidity"
	TypeTemperature Type = "temperature"
	TypeLight       Type = "light"
	TypeBattery     Type = "battery"
	TypeWater       Type = "water"
)

var Types = []Type{TypeBattery, TypeHumidity, TypeLight, TypeTemperature, TypeWater}

func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

type Measurement struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	FlowerID     string    `gorm:"type:uuid;not null;index"`
	SerialNumber string    `gorm:"column:serial_number;not null"`
	Type         Type      `gorm:"type:varchar(16);not null;index"`
	Value        float64   `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// Reading is a raw sample reported by a smart pot.
type Reading struct {
	SerialNumber string
	Type         Type
	Value        float64
	RecordedAt   time.Time
}

// HistoryFilter narrows a flower's history. Zero values disable a bound.
type HistoryFilter struct {
	Type  Type
	From  time.Time
	To    time.Time
	Limit int
}

type EventKind string

const (
	EventInserted EventKind = "inserted"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
)

type Event struct {
	Kind        EventKind
	Measurement Measurement
}
