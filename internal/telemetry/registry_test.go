package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/domain/measurement"
)

type fakeConn struct {
	id      string
	mu      sync.Mutex
	sent    []Message
	failErr error
	block   bool
	closed  bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string {
	return c.id
}

func (c *fakeConn) Send(ctx context.Context, msg Message) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.failErr != nil {
		return c.failErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestPublishDeliversExactlyOnce(t *testing.T) {
	registry := NewRegistry(time.Second, nil)
	conn := newFakeConn("c1")

	registry.Subscribe("f1", conn)
	registry.Subscribe("f1", conn)

	delivered := registry.Publish(context.Background(), "f1", ErrorMessage("ping"))
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if got := len(conn.messages()); got != 1 {
		t.Fatalf("expected connection to receive once, got %d", got)
	}

	if registry.Publish(context.Background(), "f2", ErrorMessage("other")) != 0 {
		t.Fatalf("expected no delivery to other flower")
	}
}

func TestUnsubscribeStopsDeliveryAndDropsEntry(t *testing.T) {
	registry := NewRegistry(time.Second, nil)
	conn := newFakeConn("c1")
	registry.Subscribe("f1", conn)

	if !registry.Unsubscribe("f1", conn) {
		t.Fatalf("expected connection to be removed")
	}
	if registry.Unsubscribe("f1", conn) {
		t.Fatalf("expected second unsubscribe to be a no-op")
	}
	if delivered := registry.Publish(context.Background(), "f1", ErrorMessage("ping")); delivered != 0 {
		t.Fatalf("expected 0 deliveries, got %d", delivered)
	}
	if len(conn.messages()) != 0 {
		t.Fatalf("expected nothing delivered after unsubscribe")
	}
	if registry.Count("f1") != 0 || len(registry.Flowers()) != 0 {
		t.Fatalf("expected empty flower entry removed, got %v", registry.Flowers())
	}
}

func TestFailingSubscriberIsDroppedWithoutAffectingOthers(t *testing.T) {
	registry := NewRegistry(50*time.Millisecond, nil)
	healthy := newFakeConn("healthy")
	broken := newFakeConn("broken")
	broken.failErr = errors.New("broken pipe")
	slow := newFakeConn("slow")
	slow.block = true

	registry.Subscribe("f1", healthy)
	registry.Subscribe("f1", broken)
	registry.Subscribe("f1", slow)

	started := time.Now()
	delivered := registry.Publish(context.Background(), "f1", ErrorMessage("reading"))
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected publish bounded by send timeout, took %v", elapsed)
	}
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(healthy.messages()) != 1 {
		t.Fatalf("expected healthy subscriber to receive the message")
	}
	if !broken.isClosed() || !slow.isClosed() {
		t.Fatalf("expected failed subscribers to be closed")
	}
	if registry.Count("f1") != 1 {
		t.Fatalf("expected only healthy subscriber left, got %d", registry.Count("f1"))
	}
}

func TestPublishIgnoresCallerCancellation(t *testing.T) {
	registry := NewRegistry(time.Second, nil)
	conn := newFakeConn("c1")
	registry.Subscribe("f1", conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if delivered := registry.Publish(ctx, "f1", ErrorMessage("ping")); delivered != 1 {
		t.Fatalf("expected delivery despite cancelled caller, got %d", delivered)
	}
}

func TestConcurrentSubscribePublishUnsubscribe(t *testing.T) {
	registry := NewRegistry(time.Second, nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("c%d", i))
			flowerID := fmt.Sprintf("f%d", i%3)
			registry.Subscribe(flowerID, conn)
			registry.Publish(context.Background(), flowerID, ErrorMessage("tick"))
			registry.Unsubscribe(flowerID, conn)
		}(i)
	}
	wg.Wait()

	if flowers := registry.Flowers(); len(flowers) != 0 {
		t.Fatalf("expected registry to be empty, got %v", flowers)
	}
}

func TestOnBindingChangedSendsRebind(t *testing.T) {
	registry := NewRegistry(time.Second, nil)
	conn := newFakeConn("c1")
	registry.Subscribe("f1", conn)

	var notifier binding.Notifier = registry
	notifier.OnBindingChanged(context.Background(), binding.Event{FlowerID: "f1"})

	messages := conn.messages()
	if len(messages) != 1 || messages[0].Type != TypeRebind {
		t.Fatalf("expected one rebind message, got %+v", messages)
	}
	data, ok := messages[0].Data.(RebindData)
	if !ok || data.FlowerID != "f1" || data.SerialNumber != nil {
		t.Fatalf("expected unbound rebind payload, got %+v", messages[0].Data)
	}
	if registry.Count("f1") != 1 {
		t.Fatalf("expected subscription to survive rebind")
	}
}

func TestPublishMeasurementShapesDeleteFrame(t *testing.T) {
	registry := NewRegistry(time.Second, nil)
	conn := newFakeConn("c1")
	registry.Subscribe("f1", conn)

	var publisher measurement.Publisher = registry
	publisher.PublishMeasurement(context.Background(), "f1", measurement.Event{
		Kind:        measurement.EventDeleted,
		Measurement: measurement.Measurement{ID: "m1", FlowerID: "f1", Type: measurement.TypeWater},
	})

	messages := conn.messages()
	if len(messages) != 1 || messages[0].Type != TypeMeasurementDeleted {
		t.Fatalf("expected measurement_deleted, got %+v", messages)
	}
	data, ok := messages[0].Data.(MeasurementDeletedData)
	if !ok || data.MeasurementID != "m1" || data.Type != "water" || data.FlowerID != "f1" {
		t.Fatalf("unexpected delete payload %+v", messages[0].Data)
	}
}

func TestCloseAllClosesEveryConnection(t *testing.T) {
	registry := NewRegistry(time.Second, nil)
	a, b := newFakeConn("a"), newFakeConn("b")
	registry.Subscribe("f1", a)
	registry.Subscribe("f2", b)

	registry.CloseAll()

	if !a.isClosed() || !b.isClosed() || len(registry.Flowers()) != 0 {
		t.Fatalf("expected all connections closed and registry empty")
	}
}
