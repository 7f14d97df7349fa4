package renderd

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"raster-mirror/internal/metrics"
	"raster-mirror/internal/wire"
)

// Client is one connected viewer.
type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	closed bool
	mu     sync.Mutex
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, buffer),
	}
}

// enqueue hands msg to the write pump without blocking. It reports false when
// the client is gone or its buffer is full.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Hub tracks connected viewers.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{clients: make(map[*Client]bool), log: log}
}

func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetServerClients(n)
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetServerClients(n)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes one frame and queues it for every client. Clients whose
// buffer is full skip the frame.
func (h *Hub) Broadcast(code wire.Code, payload interface{}) error {
	msg, err := wire.Encode(code, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		queued := c.enqueue(msg)
		if !queued {
			h.log.Debug().Str("client", c.ID).Stringer("command", code).Msg("send buffer full, skipping frame")
		}
		metrics.RecordBroadcast(code, queued)
	}
	return nil
}
