package client

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"smartpot-app-go/internal/telemetry"
)

func makeToken(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

var validToken = makeToken(`{"user":{"id":"u1"}}`)

type fakeStream struct {
	frames chan []byte
	once   sync.Once
	closed chan struct{}
	mu     sync.Mutex
	writes []any
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Read() ([]byte, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.closed:
		return nil, errors.New("stream closed")
	}
}

func (s *fakeStream) WriteJSON(v any) error {
	s.mu.Lock()
	s.writes = append(s.writes, v)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeDialer answers dials from a queue of outcomes; once the queue is empty
// every dial fails.
type fakeDialer struct {
	mu       sync.Mutex
	outcomes []func(ctx context.Context) (Stream, error)
	dials    int
}

func (d *fakeDialer) push(outcome func(ctx context.Context) (Stream, error)) {
	d.mu.Lock()
	d.outcomes = append(d.outcomes, outcome)
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(ctx context.Context, flowerID, token string) (Stream, error) {
	d.mu.Lock()
	d.dials++
	var outcome func(ctx context.Context) (Stream, error)
	if len(d.outcomes) > 0 {
		outcome = d.outcomes[0]
		d.outcomes = d.outcomes[1:]
	}
	d.mu.Unlock()

	if outcome == nil {
		return nil, errors.New("connection refused")
	}
	return outcome(ctx)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func succeed(stream *fakeStream) func(context.Context) (Stream, error) {
	return func(context.Context) (Stream, error) { return stream, nil }
}

func nextState(t *testing.T, c *Client) StateChange {
	t.Helper()
	select {
	case change := <-c.States():
		return change
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state change")
		return StateChange{}
	}
}

func expectStates(t *testing.T, c *Client, states ...State) []StateChange {
	t.Helper()
	changes := make([]StateChange, 0, len(states))
	for _, want := range states {
		change := nextState(t, c)
		if change.To != want {
			t.Fatalf("expected transition to %s, got %s (from %s)", want, change.To, change.From)
		}
		changes = append(changes, change)
	}
	return changes
}

func newTestClient(t *testing.T, dialer Dialer, maxAttempts int, baseDelay time.Duration) *Client {
	t.Helper()
	c := New(dialer, Config{FlowerID: "f1", MaxAttempts: maxAttempts, BaseDelay: baseDelay}, nil)
	t.Cleanup(c.Close)
	return c
}

func TestInvalidTokenEntersErrorWithoutDialing(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, 5, time.Millisecond)

	for _, token := range []string{"", "not-a-jwt", makeToken(`{"sub":"u1"}`), "a.%%%.c"} {
		c.Connect(token)
		change := expectStates(t, c, StateError)[0]
		if !errors.Is(change.Err, ErrInvalidToken) {
			t.Fatalf("expected invalid token error for %q, got %v", token, change.Err)
		}
	}
	if dialer.count() != 0 {
		t.Fatalf("expected no dial attempts, got %d", dialer.count())
	}
}

func TestGivesUpAfterMaxAttemptsAndConnectResets(t *testing.T) {
	dialer := &fakeDialer{}
	base := 5 * time.Millisecond
	c := newTestClient(t, dialer, 5, base)

	c.Connect(validToken)
	expectStates(t, c, StateConnecting)
	for attempt := 1; attempt < 5; attempt++ {
		change := expectStates(t, c, StateReconnecting)[0]
		if change.Attempt != attempt || change.Delay != base*time.Duration(attempt) {
			t.Fatalf("expected attempt %d with delay %v, got %+v", attempt, base*time.Duration(attempt), change)
		}
		expectStates(t, c, StateConnecting)
	}
	final := expectStates(t, c, StateDisconnected)[0]
	if final.Attempt != 5 {
		t.Fatalf("expected 5 attempts, got %d", final.Attempt)
	}

	time.Sleep(100 * time.Millisecond)
	if dialer.count() != 5 {
		t.Fatalf("expected exactly 5 dials, got %d", dialer.count())
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected permanent disconnect, got %s", c.State())
	}

	stream := newFakeStream()
	dialer.push(succeed(stream))
	c.Connect(validToken)
	restart := expectStates(t, c, StateConnecting, StateConnected)
	if restart[0].Attempt != 0 {
		t.Fatalf("expected attempt counter reset, got %d", restart[0].Attempt)
	}
	if c.Attempts() != 0 {
		t.Fatalf("expected 0 attempts after connect, got %d", c.Attempts())
	}
}

func TestConnectIsNoOpWhileActive(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.push(succeed(newFakeStream()))
	c := newTestClient(t, dialer, 5, time.Millisecond)

	c.Connect(validToken)
	expectStates(t, c, StateConnecting, StateConnected)
	c.Connect(validToken)

	if dialer.count() != 1 || c.State() != StateConnected {
		t.Fatalf("expected single dial while connected, got %d (%s)", dialer.count(), c.State())
	}
}

func TestUnexpectedCloseReconnects(t *testing.T) {
	first, second := newFakeStream(), newFakeStream()
	dialer := &fakeDialer{}
	dialer.push(succeed(first))
	dialer.push(succeed(second))
	c := newTestClient(t, dialer, 5, time.Millisecond)

	c.Connect(validToken)
	expectStates(t, c, StateConnecting, StateConnected)

	first.Close()
	changes := expectStates(t, c, StateReconnecting, StateConnecting, StateConnected)
	if changes[0].Attempt != 1 {
		t.Fatalf("expected first reconnect attempt, got %d", changes[0].Attempt)
	}
	if c.Attempts() != 0 {
		t.Fatalf("expected counter reset once connected, got %d", c.Attempts())
	}
}

func TestDisconnectSettlesIdle(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{}
	dialer.push(succeed(stream))
	c := newTestClient(t, dialer, 5, time.Millisecond)

	c.Connect(validToken)
	expectStates(t, c, StateConnecting, StateConnected)

	c.Disconnect()
	expectStates(t, c, StateIdle)
	if !stream.isClosed() {
		t.Fatalf("expected stream closed")
	}

	time.Sleep(50 * time.Millisecond)
	if dialer.count() != 1 || c.State() != StateIdle {
		t.Fatalf("expected no reconnect after intentional close, dials=%d state=%s", dialer.count(), c.State())
	}
}

func TestDisconnectCancelsBackoffAndDial(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, 5, time.Hour)

	c.Connect(validToken)
	expectStates(t, c, StateConnecting, StateReconnecting)
	c.Disconnect()
	expectStates(t, c, StateIdle)

	blocked := make(chan struct{})
	dialer.push(func(ctx context.Context) (Stream, error) {
		close(blocked)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c.Connect(validToken)
	expectStates(t, c, StateConnecting)
	<-blocked
	c.Disconnect()
	expectStates(t, c, StateIdle)

	time.Sleep(50 * time.Millisecond)
	if c.State() != StateIdle || dialer.count() != 2 {
		t.Fatalf("expected idle after cancelled dial, state=%s dials=%d", c.State(), dialer.count())
	}
}

func TestDispatchesFramesByType(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{}
	dialer.push(succeed(stream))
	c := newTestClient(t, dialer, 5, time.Millisecond)

	c.Connect(validToken)
	expectStates(t, c, StateConnecting, StateConnected)

	stream.frames <- []byte(`{"type":"connection","message":"Connected to flower f1"}`)
	stream.frames <- []byte(`{"type":"telemetry_v2","data":{}}`)
	stream.frames <- []byte(`{"type":"measurement_inserted","data":{"id":"m1","flower_id":"f1","type":"pressure","value":1}}`)
	stream.frames <- []byte(`{"type":"measurement_inserted","data":{"id":"m2","flower_id":"f1","type":"humidity","value":42,"createdAt":"2026-06-01T08:00:00Z"}}`)
	stream.frames <- []byte(`{"type":"measurement_deleted","data":{"flower_id":"f1","type":"humidity","measurement_id":"m2"}}`)
	stream.frames <- []byte(`{"type":"rebind","data":{"flower_id":"f1","serial_number":"SN002"}}`)

	want := []telemetry.MessageType{
		telemetry.TypeConnection,
		telemetry.TypeMeasurementInserted,
		telemetry.TypeMeasurementDeleted,
		telemetry.TypeRebind,
	}
	for _, kind := range want {
		select {
		case event := <-c.Events():
			if event.Type != kind {
				t.Fatalf("expected %s, got %s", kind, event.Type)
			}
			switch kind {
			case telemetry.TypeMeasurementInserted:
				if event.Measurement == nil || event.Measurement.ID != "m2" || event.Measurement.Value != 42 {
					t.Fatalf("unexpected measurement %+v", event.Measurement)
				}
			case telemetry.TypeMeasurementDeleted:
				if event.Deleted == nil || event.Deleted.MeasurementID != "m2" {
					t.Fatalf("unexpected delete %+v", event.Deleted)
				}
			case telemetry.TypeRebind:
				if event.Rebind == nil || event.Rebind.SerialNumber == nil || *event.Rebind.SerialNumber != "SN002" {
					t.Fatalf("unexpected rebind %+v", event.Rebind)
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
	if c.State() != StateConnected {
		t.Fatalf("expected session to survive unknown frames, got %s", c.State())
	}
}

func TestRequestMeasurementsRequiresConnection(t *testing.T) {
	stream := newFakeStream()
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, 5, time.Hour)

	if err := c.RequestMeasurements(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}

	dialer.push(succeed(stream))
	c.Connect(validToken)
	expectStates(t, c, StateConnecting, StateConnected)
	if err := c.RequestMeasurements(); err != nil {
		t.Fatalf("expected request to be written, got %v", err)
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	msg, ok := stream.writes[0].(telemetry.Message)
	if len(stream.writes) != 1 || !ok || msg.Type != telemetry.TypeGetMeasurements {
		t.Fatalf("expected get_measurements request, got %+v", stream.writes)
	}
}

func TestUserIDFromToken(t *testing.T) {
	id, err := UserIDFromToken(validToken)
	if err != nil || id != "u1" {
		t.Fatalf("expected u1, got %q (%v)", id, err)
	}
	if _, err := UserIDFromToken(makeToken(`{"user":{"id":""}}`)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected empty id rejected, got %v", err)
	}
}
