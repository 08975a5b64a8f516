package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"smartpot-app-go/internal/telemetry"
	"smartpot-app-go/pkg/logger"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 3 * time.Second
	defaultBuffer      = 64
)

var (
	ErrNotConnected = errors.New("telemetry client is not connected")
	ErrClosed       = errors.New("telemetry client is closed")
)

type Config struct {
	FlowerID    string
	MaxAttempts int
	BaseDelay   time.Duration
	Buffer      int
}

// StateChange is published on every transition. Delay is set when entering
// Reconnecting.
type StateChange struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
}

// Client keeps one telemetry connection for a flower alive with bounded
// retries. All state lives in a single goroutine; callers talk to it through
// commands and observe it through States and Events.
type Client struct {
	cfg    Config
	dialer Dialer
	log    logger.Logger

	commands chan func()
	dialed   chan dialResult
	ended    chan streamEnd
	states   chan StateChange
	events   chan Event
	stop     chan struct{}
	done     chan struct{}

	closeOnce sync.Once

	state       State
	attempts    int
	token       string
	generation  int
	stream      Stream
	cancelDial  context.CancelFunc
	retry       *time.Timer
	retryC      <-chan time.Time
	intentional bool
}

type dialResult struct {
	generation int
	stream     Stream
	err        error
}

type streamEnd struct {
	generation int
	err        error
}

func New(dialer Dialer, cfg Config, log logger.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}

	c := &Client{
		cfg:      cfg,
		dialer:   dialer,
		log:      logger.OrNop(log).Component("telemetry-client").With("flower_id", cfg.FlowerID),
		commands: make(chan func()),
		dialed:   make(chan dialResult),
		ended:    make(chan streamEnd),
		states:   make(chan StateChange, cfg.Buffer),
		events:   make(chan Event, cfg.Buffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
	go c.loop()
	return c
}

// States must be drained by the caller; the client waits on a full buffer.
func (c *Client) States() <-chan StateChange {
	return c.states
}

// Events carries decoded server frames. Frames are dropped when the buffer
// is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect starts a session with token. It is a no-op while a session is
// connecting, connected or waiting to reconnect.
func (c *Client) Connect(token string) {
	c.do(func() { c.connect(token) })
}

// Disconnect closes the session on purpose and returns the client to Idle.
// A pending dial or backoff is cancelled.
func (c *Client) Disconnect() {
	c.do(c.disconnect)
}

func (c *Client) State() State {
	state := StateIdle
	c.do(func() { state = c.state })
	return state
}

func (c *Client) Attempts() int {
	attempts := 0
	c.do(func() { attempts = c.attempts })
	return attempts
}

// RequestMeasurements asks the server for the flower's history snapshot.
func (c *Client) RequestMeasurements() error {
	err := ErrClosed
	c.do(func() {
		if c.state != StateConnected || c.stream == nil {
			err = ErrNotConnected
			return
		}
		err = c.stream.WriteJSON(telemetry.Message{Type: telemetry.TypeGetMeasurements})
	})
	return err
}

// Close stops the client and releases its connection. It is safe to call
// more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Client) do(command func()) {
	finished := make(chan struct{})
	select {
	case c.commands <- func() { command(); close(finished) }:
		<-finished
	case <-c.done:
	}
}

func (c *Client) loop() {
	defer close(c.done)
	defer c.release()

	for {
		select {
		case <-c.stop:
			return
		case command := <-c.commands:
			command()
		case result := <-c.dialed:
			c.onDialed(result)
		case end := <-c.ended:
			c.onStreamEnd(end)
		case <-c.retryC:
			c.retry, c.retryC = nil, nil
			c.dial()
		}
	}
}

func (c *Client) connect(token string) {
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.log.Debug("telemetry-client.connect: already active", "state", string(c.state))
		return
	}

	if _, err := UserIDFromToken(token); err != nil {
		c.log.Warn("telemetry-client.connect: rejected credential", "error", err)
		c.transition(StateChange{To: StateError, Err: err})
		return
	}

	c.token = token
	c.attempts = 0
	c.intentional = false
	c.dial()
}

func (c *Client) disconnect() {
	if c.state == StateIdle {
		return
	}

	c.intentional = true
	c.release()
	c.transition(StateChange{To: StateIdle, Attempt: c.attempts})
}

func (c *Client) release() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry, c.retryC = nil, nil
	}
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
}

func (c *Client) dial() {
	c.generation++
	generation := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.transition(StateChange{To: StateConnecting, Attempt: c.attempts})

	flowerID, token := c.cfg.FlowerID, c.token
	go func() {
		stream, err := c.dialer.Dial(ctx, flowerID, token)
		select {
		case c.dialed <- dialResult{generation: generation, stream: stream, err: err}:
		case <-c.done:
			if stream != nil {
				_ = stream.Close()
			}
		}
	}()
}

func (c *Client) onDialed(result dialResult) {
	if result.generation != c.generation || c.intentional {
		if result.stream != nil {
			_ = result.stream.Close()
		}
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if result.err != nil {
		c.fail(result.err)
		return
	}

	c.stream = result.stream
	c.attempts = 0
	c.transition(StateChange{To: StateConnected})
	go c.read(result.generation, result.stream)
}

func (c *Client) onStreamEnd(end streamEnd) {
	if end.generation != c.generation || c.intentional {
		return
	}
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	c.fail(end.err)
}

func (c *Client) fail(err error) {
	c.attempts++
	if c.attempts >= c.cfg.MaxAttempts {
		c.log.Warn("telemetry-client: giving up", "attempts", c.attempts, "error", err)
		c.transition(StateChange{To: StateDisconnected, Attempt: c.attempts, Err: err})
		return
	}

	delay := c.cfg.BaseDelay * time.Duration(c.attempts)
	c.retry = time.NewTimer(delay)
	c.retryC = c.retry.C
	c.log.Info("telemetry-client: reconnecting", "attempt", c.attempts, "delay", delay.String(), "error", err)
	c.transition(StateChange{To: StateReconnecting, Attempt: c.attempts, Delay: delay, Err: err})
}

func (c *Client) transition(change StateChange) {
	change.From = c.state
	c.state = change.To
	select {
	case c.states <- change:
	case <-c.stop:
	}
}

func (c *Client) read(generation int, stream Stream) {
	for {
		payload, err := stream.Read()
		if err != nil {
			select {
			case c.ended <- streamEnd{generation: generation, err: err}:
			case <-c.done:
			}
			return
		}

		event, err := decodeEvent(payload)
		if err != nil {
			c.log.Debug("telemetry-client.read: dropping frame", "error", err)
			continue
		}
		select {
		case c.events <- event:
		default:
			c.log.Warn("telemetry-client.read: event buffer full", "type", string(event.Type))
		}
	}
}
