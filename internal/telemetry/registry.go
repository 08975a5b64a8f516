package telemetry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/domain/measurement"
	"smartpot-app-go/pkg/logger"
)

const DefaultSendTimeout = 5 * time.Second

// Conn is one live subscriber. Send must respect ctx so that a stalled peer
// cannot hold up a publish past the registry's send timeout.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Registry tracks live telemetry connections per flower.
type Registry struct {
	mu          sync.RWMutex
	flowers     map[string]map[string]Conn
	sendTimeout time.Duration
	log         logger.Logger
}

func NewRegistry(sendTimeout time.Duration, log logger.Logger) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Registry{
		flowers:     make(map[string]map[string]Conn),
		sendTimeout: sendTimeout,
		log:         logger.OrNop(log).Component("telemetry"),
	}
}

func (r *Registry) Subscribe(flowerID string, conn Conn) {
	r.mu.Lock()
	conns, ok := r.flowers[flowerID]
	if !ok {
		conns = make(map[string]Conn)
		r.flowers[flowerID] = conns
	}
	_, existed := conns[conn.ID()]
	conns[conn.ID()] = conn
	total := len(conns)
	r.mu.Unlock()

	if !existed {
		r.log.Debug("telemetry.subscribe: connection added", "flower_id", flowerID, "conn_id", conn.ID(), "subscribers", total)
	}
}

// Unsubscribe reports whether conn was registered for flowerID.
func (r *Registry) Unsubscribe(flowerID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.flowers[flowerID]
	if !ok {
		return false
	}
	if _, ok := conns[conn.ID()]; !ok {
		return false
	}
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(r.flowers, flowerID)
	}
	return true
}

// Publish sends msg to every connection subscribed to flowerID at the time of
// the call and returns how many accepted it. Connections that fail are
// unsubscribed and closed.
func (r *Registry) Publish(ctx context.Context, flowerID string, msg Message) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.flowers[flowerID]))
	for _, conn := range r.flowers[flowerID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		return 0
	}

	base := context.WithoutCancel(ctx)
	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn Conn) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(base, r.sendTimeout)
			err := conn.Send(sendCtx, msg)
			cancel()
			if err == nil {
				delivered.Add(1)
				return
			}

			r.log.Warn("telemetry.publish: dropping subscriber",
				"flower_id", flowerID, "conn_id", conn.ID(), "type", string(msg.Type), "error", err)
			r.Unsubscribe(flowerID, conn)
			if closeErr := conn.Close(); closeErr != nil {
				r.log.Debug("telemetry.publish: close failed", "conn_id", conn.ID(), "error", closeErr)
			}
		}(conn)
	}
	wg.Wait()

	return int(delivered.Load())
}

func (r *Registry) PublishMeasurement(ctx context.Context, flowerID string, event measurement.Event) int {
	return r.Publish(ctx, flowerID, MeasurementMessage(event))
}

// OnBindingChanged tells a flower's subscribers that its pot changed.
// Subscriptions are keyed by flower and stay as they are.
func (r *Registry) OnBindingChanged(ctx context.Context, event binding.Event) {
	delivered := r.Publish(ctx, event.FlowerID, RebindMessage(event))
	if delivered > 0 {
		r.log.Debug("telemetry.rebind: notified", "flower_id", event.FlowerID, "delivered", delivered)
	}
}

func (r *Registry) Count(flowerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flowers[flowerID])
}

// Flowers lists flowers with at least one subscriber.
func (r *Registry) Flowers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.flowers))
	for id := range r.flowers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// CloseAll closes every connection and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	flowers := r.flowers
	r.flowers = make(map[string]map[string]Conn)
	r.mu.Unlock()

	for _, conns := range flowers {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}
}
