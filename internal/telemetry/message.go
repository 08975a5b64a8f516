package telemetry

import (
	"fmt"
	"time"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/domain/measurement"
)

type MessageType string

const (
	TypeConnection          MessageType = "connection"
	TypeMeasurementInserted MessageType = "measurement_inserted"
	TypeMeasurementUpdated  MessageType = "measurement_updated"
	TypeMeasurementDeleted  MessageType = "measurement_deleted"
	TypeMeasurements        MessageType = "measurements"
	TypeRebind              MessageType = "rebind"
	TypeError               MessageType = "error"

	TypeGetMeasurements MessageType = "get_measurements"
)

const invalidMessageFormat = "Invalid message format"

// Message is one JSON frame on a telemetry connection.
type Message struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message,omitempty"`
	Data    any         `json:"data,omitempty"`
}

type MeasurementData struct {
	ID        string    `json:"id"`
	FlowerID  string    `json:"flower_id"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

type MeasurementDeletedData struct {
	FlowerID      string `json:"flower_id"`
	Type          string `json:"type"`
	MeasurementID string `json:"measurement_id"`
}

type RebindData struct {
	FlowerID     string  `json:"flower_id"`
	SerialNumber *string `json:"serial_number"`
}

// MeasurementsData is the history snapshot, newest first per type.
type MeasurementsData map[string][]MeasurementData

func ConnectionMessage(flowerID string) Message {
	return Message{Type: TypeConnection, Message: fmt.Sprintf("Connected to flower %s", flowerID)}
}

func ErrorMessage(message string) Message {
	return Message{Type: TypeError, Message: message}
}

func RebindMessage(event binding.Event) Message {
	return Message{Type: TypeRebind, Data: RebindData{FlowerID: event.FlowerID, SerialNumber: event.SerialNumber}}
}

func MeasurementMessage(event measurement.Event) Message {
	m := event.Measurement
	switch event.Kind {
	case measurement.EventDeleted:
		return Message{Type: TypeMeasurementDeleted, Data: MeasurementDeletedData{
			FlowerID:      m.FlowerID,
			Type:          string(m.Type),
			MeasurementID: m.ID,
		}}
	case measurement.EventUpdated:
		return Message{Type: TypeMeasurementUpdated, Data: measurementData(m)}
	default:
		return Message{Type: TypeMeasurementInserted, Data: measurementData(m)}
	}
}

func MeasurementsMessage(snapshot map[measurement.Type][]measurement.Measurement) Message {
	data := make(MeasurementsData, len(snapshot))
	for t, items := range snapshot {
		converted := make([]MeasurementData, 0, len(items))
		for _, item := range items {
			converted = append(converted, measurementData(item))
		}
		data[string(t)] = converted
	}
	return Message{Type: TypeMeasurements, Data: data}
}

func measurementData(m measurement.Measurement) MeasurementData {
	return MeasurementData{
		ID:        m.ID,
		FlowerID:  m.FlowerID,
		Type:      string(m.Type),
		Value:     m.Value,
		CreatedAt: m.CreatedAt,
	}
}
