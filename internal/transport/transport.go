// Package transport keeps the viewer's websocket to the render server alive.
//
// A Transport is driven by a single owner goroutine: Connect, Check, Handle,
// Send and Flush must all be called from it. Dialing and reading happen on
// helper goroutines that only post Events back to the owner; every Event is
// tagged with the connection generation it belongs to, and events from a
// retired generation are discarded.
package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"raster-mirror/internal/metrics"
	"raster-mirror/internal/wire"
)

// State is the connection lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameHandler receives every inbound frame that splits into a code and a payload.
type FrameHandler interface {
	HandleFrame(f wire.Frame)
}

type Config struct {
	CheckInterval time.Duration
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		CheckInterval: 500 * time.Millisecond,
		DialTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

type eventKind int

const (
	eventOpen eventKind = iota
	eventClosed
	eventMessage
)

// Event is posted by connection goroutines and consumed by Handle.
type Event struct {
	gen         uint64
	kind        eventKind
	conn        Conn
	messageType int
	data        []byte
	err         error
}

type outbound struct {
	code    wire.Code
	payload interface{}
}

type Transport struct {
	cfg     Config
	dialer  Dialer
	handler FrameHandler
	log     zerolog.Logger

	events   chan Event
	ticker   *time.Ticker
	conn     Conn
	gen      uint64
	state    State
	outbox   []outbound
	connects int
}

func New(cfg Config, dialer Dialer, handler FrameHandler, log zerolog.Logger) *Transport {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	t := &Transport{
		cfg:     cfg,
		dialer:  dialer,
		handler: handler,
		log:     log,
		events:  make(chan Event, 64),
	}
	t.setState(StateClosed)
	return t
}

func (t *Transport) State() State { return t.state }

// Connects returns how many connection attempts have been started.
func (t *Transport) Connects() int { return t.connects }

// Events delivers connection events; pass each one to Handle.
func (t *Transport) Events() <-chan Event { return t.events }

// Tick fires every check interval once Connect has armed the ticker. Before
// that it returns nil, which blocks forever in a select.
func (t *Transport) Tick() <-chan time.Time {
	if t.ticker == nil {
		return nil
	}
	return t.ticker.C
}

// Connect retires the current connection and starts dialing a new one.
func (t *Transport) Connect(ctx context.Context) {
	t.detach()
	gen := t.gen
	t.connects++
	t.setState(StateConnecting)
	metrics.RecordConnect()
	if t.ticker == nil {
		t.ticker = time.NewTicker(t.cfg.CheckInterval)
	}
	t.log.Debug().Uint64("gen", gen).Msg("connecting")
	go t.run(ctx, gen)
}

// Check reconnects when the connection is closed and does nothing otherwise.
func (t *Transport) Check(ctx context.Context) {
	if t.state == StateClosed {
		t.Connect(ctx)
	}
}

// Handle applies one event received from Events.
func (t *Transport) Handle(ev Event) {
	if ev.gen != t.gen {
		if ev.kind == eventOpen && ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}
	switch ev.kind {
	case eventOpen:
		t.conn = ev.conn
		t.setState(StateOpen)
		t.log.Info().Uint64("gen", ev.gen).Msg("connected to server")
	case eventClosed:
		t.drop(ev.err)
	case eventMessage:
		t.onMessage(ev.messageType, ev.data)
	}
}

// Send queues a message for the next Flush. Sends are fire-and-forget.
func (t *Transport) Send(code wire.Code, payload interface{}) {
	t.outbox = append(t.outbox, outbound{code: code, payload: payload})
}

// Pending returns the number of queued outbound messages.
func (t *Transport) Pending() int { return len(t.outbox) }

// Flush encodes and writes every queued message in FIFO order. Messages
// queued while the connection is not open are dropped.
func (t *Transport) Flush() {
	pending := t.outbox
	t.outbox = nil
	for _, m := range pending {
		if t.state != StateOpen || t.conn == nil {
			t.log.Debug().Stringer("command", m.code).Stringer("state", t.state).Msg("dropping send: not connected")
			metrics.RecordFrameError(metrics.KindDropped)
			continue
		}
		data, err := wire.Encode(m.code, m.payload)
		if err != nil {
			t.log.Error().Err(err).Stringer("command", m.code).Msg("encode outbound frame")
			metrics.RecordFrameError(metrics.KindEncode)
			continue
		}
		if t.cfg.WriteTimeout > 0 {
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
		}
		if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			t.log.Warn().Err(err).Stringer("command", m.code).Msg("write outbound frame")
			metrics.RecordFrameError(metrics.KindWrite)
			t.drop(err)
			continue
		}
		metrics.RecordFrameSent(m.code)
	}
}

// Close stops the check ticker and tears down the connection for good.
func (t *Transport) Close() {
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	t.detach()
	t.outbox = nil
	t.setState(StateClosed)
}

// detach retires the current generation before closing its connection so
// that nothing it posts afterwards is applied.
func (t *Transport) detach() {
	old := t.conn
	t.conn = nil
	t.gen++
	if old != nil {
		_ = old.Close()
	}
}

func (t *Transport) drop(err error) {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	if t.state != StateClosed {
		t.log.Debug().Err(err).Msg("lost connection to server")
	}
	t.setState(StateClosed)
}

func (t *Transport) onMessage(messageType int, data []byte) {
	if messageType != websocket.BinaryMessage {
		t.log.Error().Int("message_type", messageType).Msg("protocol error: non-binary message")
		metrics.RecordFrameError(metrics.KindProtocol)
		return
	}
	f, err := wire.SplitFrame(data)
	if err != nil {
		t.log.Error().Err(err).Int("bytes", len(data)).Msg("protocol error: dropping frame")
		metrics.RecordFrameError(metrics.KindProtocol)
		return
	}
	t.handler.HandleFrame(f)
}

func (t *Transport) setState(s State) {
	t.state = s
	metrics.SetConnectionState(int(s))
}

func (t *Transport) run(ctx context.Context, gen uint64) {
	conn, err := t.dial(ctx)
	if err != nil {
		t.post(ctx, Event{gen: gen, kind: eventClosed, err: err})
		return
	}
	if !t.post(ctx, Event{gen: gen, kind: eventOpen, conn: conn}) {
		_ = conn.Close()
		return
	}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.post(ctx, Event{gen: gen, kind: eventClosed, err: err})
			return
		}
		if !t.post(ctx, Event{gen: gen, kind: eventMessage, messageType: messageType, data: data}) {
			return
		}
	}
}

func (t *Transport) dial(ctx context.Context) (Conn, error) {
	if t.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.DialTimeout)
		defer cancel()
	}
	return t.dialer.DialContext(ctx)
}

func (t *Transport) post(ctx context.Context, ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
