package telemetry

import (
	"context"

	"smartpot-app-go/internal/domain/measurement"
	"smartpot-app-go/pkg/logger"
)

// History supplies the snapshot answered to get_measurements.
type History interface {
	Snapshot(ctx context.Context, flowerID string) (map[measurement.Type][]measurement.Measurement, error)
}

// Session is a subscriber connection that can be driven to completion.
type Session interface {
	Conn
	Run(ctx context.Context, onMessage func(context.Context, Message)) error
}

// Serve registers conn for flowerID, greets it and answers its requests until
// it disconnects. The connection is always unsubscribed and closed on return.
func Serve(ctx context.Context, registry *Registry, history History, flowerID string, conn Session, log logger.Logger) error {
	log = logger.OrNop(log).Component("telemetry").With("flower_id", flowerID, "conn_id", conn.ID())

	registry.Subscribe(flowerID, conn)
	defer func() {
		registry.Unsubscribe(flowerID, conn)
		_ = conn.Close()
		log.Info("telemetry.serve: disconnected")
	}()

	if err := conn.Send(ctx, ConnectionMessage(flowerID)); err != nil {
		return err
	}
	log.Info("telemetry.serve: connected")

	return conn.Run(ctx, func(ctx context.Context, msg Message) {
		switch msg.Type {
		case TypeGetMeasurements:
			reply := ErrorMessage("Failed to load measurements")
			snapshot, err := history.Snapshot(ctx, flowerID)
			if err != nil {
				log.InternalError("telemetry.serve: snapshot failed", err)
			} else {
				reply = MeasurementsMessage(snapshot)
			}
			if err := conn.Send(ctx, reply); err != nil {
				log.Debug("telemetry.serve: reply dropped", "error", err)
			}
		default:
			log.Debug("telemetry.serve: ignoring message", "type", string(msg.Type))
		}
	})
}
