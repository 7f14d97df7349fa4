package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of a websocket connection the transport relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a connection to the transport's fixed endpoint.
type Dialer interface {
	DialContext(ctx context.Context) (Conn, error)
}

type WebSocketDialer struct {
	dialer *websocket.Dialer
	url    string
}

func NewWebSocketDialer(url string, handshakeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  1024,
		},
		url: url,
	}
}

func (d *WebSocketDialer) URL() string { return d.url }

func (d *WebSocketDialer) DialContext(ctx context.Context) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s failed (status %d): %w", d.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s failed: %w", d.url, err)
	}
	return conn, nil
}
