package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Stream is one established telemetry connection.
type Stream interface {
	Read() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, flowerID, token string) (Stream, error)
}

// WebSocketDialer connects to the server's /ws/measurements endpoint.
type WebSocketDialer struct {
	BaseURL string
	Dialer  *websocket.Dialer
}

func (d WebSocketDialer) Dial(ctx context.Context, flowerID, token string) (Stream, error) {
	endpoint, err := d.endpoint(flowerID, token)
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", flowerID, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", flowerID, err)
	}
	return wsStream{conn: conn}, nil
}

func (d WebSocketDialer) endpoint(flowerID, token string) (string, error) {
	base, err := url.Parse(strings.TrimRight(d.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}
	base.Path += "/ws/measurements/" + url.PathEscape(flowerID)
	base.RawQuery = url.Values{"token": []string{token}}.Encode()
	return base.String(), nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s wsStream) Read() ([]byte, error) {
	_, payload, err := s.conn.ReadMessage()
	return payload, err
}

func (s wsStream) WriteJSON(v any) error {
	return s.conn.WriteJSON(v)
}

func (s wsStream) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
