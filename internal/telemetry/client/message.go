package client

import (
	"encoding/json"
	"fmt"

	"smartpot-app-go/internal/domain/measurement"
	"smartpot-app-go/internal/telemetry"
)

// Event is a decoded server frame. Only the field matching Type is set.
type Event struct {
	Type        telemetry.MessageType
	Message     string
	Measurement *telemetry.MeasurementData
	Deleted     *telemetry.MeasurementDeletedData
	Rebind      *telemetry.RebindData
	History     telemetry.MeasurementsData
}

type envelope struct {
	Type    telemetry.MessageType `json:"type"`
	Message string                `json:"message"`
	Data    json.RawMessage       `json:"data"`
}

var errUnknownType = fmt.Errorf("unknown message type")

func decodeEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}

	event := Event{Type: env.Type, Message: env.Message}
	switch env.Type {
	case telemetry.TypeConnection, telemetry.TypeError:
		return event, nil
	case telemetry.TypeMeasurementInserted, telemetry.TypeMeasurementUpdated:
		var data telemetry.MeasurementData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if !measurement.Type(data.Type).Valid() {
			return Event{}, fmt.Errorf("decode %s: %w", env.Type, measurement.ErrInvalidType)
		}
		event.Measurement = &data
	case telemetry.TypeMeasurementDeleted:
		var data telemetry.MeasurementDeletedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		event.Deleted = &data
	case telemetry.TypeRebind:
		var data telemetry.RebindData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		event.Rebind = &data
	case telemetry.TypeMeasurements:
		var data telemetry.MeasurementsData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		event.History = data
	default:
		return Event{}, fmt.Errorf("%w %q", errUnknownType, env.Type)
	}
	return event, nil
}
