package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"smartpot-app-go/pkg/logger"
)

const (
	DefaultSendBuffer   = 32
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 60 * time.Second

	writeWait    = 10 * time.Second
	maxFrameSize = 4096
)

var ErrConnClosed = errors.New("telemetry connection closed")

type ConnConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	return c
}

// WSConn adapts a websocket to Conn. Outbound frames go through a buffered
// queue drained by a single writer goroutine.
type WSConn struct {
	id   string
	ws   *websocket.Conn
	cfg  ConnConfig
	log  logger.Logger
	send chan Message
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func NewWSConn(ws *websocket.Conn, cfg ConnConfig, log logger.Logger) *WSConn {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &WSConn{
		id:   id,
		ws:   ws,
		cfg:  cfg,
		log:  logger.OrNop(log).Component("telemetry").With("conn_id", id),
		send: make(chan Message, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *WSConn) ID() string {
	return c.id
}

// Send queues msg for the writer. It blocks while the queue is full until ctx
// ends or the connection closes.
func (c *WSConn) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Done is closed once the connection is closed.
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

// Run starts the writer and reads frames until the peer goes away, passing
// every well-formed frame to onMessage. Malformed frames get an error reply.
func (c *WSConn) Run(ctx context.Context, onMessage func(context.Context, Message)) error {
	go c.writeLoop()
	defer c.Close()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.Debug("telemetry.read: malformed frame", "error", err)
			if err := c.Send(ctx, ErrorMessage(invalidMessageFormat)); err != nil {
				return err
			}
			continue
		}
		onMessage(ctx, msg)
	}
}

func (c *WSConn) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug("telemetry.write: failed", "type", string(msg.Type), "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
