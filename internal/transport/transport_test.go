package transport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"raster-mirror/internal/testutil/testlog"
	"raster-mirror/internal/wire"
)

var errFakeClosed = errors.New("fake: closed")

type fakeMessage struct {
	messageType int
	data        []byte
}

type fakeConn struct {
	in        chan fakeMessage
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	written   [][]byte
	failWrite error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan fakeMessage, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.in:
		return m.messageType, m.data, nil
	case <-c.done:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite != nil {
		return c.failWrite
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	err   error
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) DialContext(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection dialed")
		return nil
	}
}

type recordingHandler struct {
	frames []wire.Frame
}

func (h *recordingHandler) HandleFrame(f wire.Frame) {
	h.frames = append(h.frames, f)
}

func newTestTransport(t *testing.T, dialer Dialer) (*Transport, *recordingHandler, *testlog.Recorder) {
	t.Helper()
	testlog.Start(t)
	logger, rec := testlog.Capture()
	h := &recordingHandler{}
	cfg := DefaultConfig()
	cfg.CheckInterval = time.Hour
	tr := New(cfg, dialer, h, logger)
	t.Cleanup(tr.Close)
	return tr, h, rec
}

// pump handles events until done reports true.
func pump(t *testing.T, tr *Transport, done func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !done() {
		select {
		case ev := <-tr.Events():
			tr.Handle(ev)
		case <-deadline:
			t.Fatalf("timed out waiting; state=%s", tr.State())
		}
	}
}

func openTransport(t *testing.T, ctx context.Context, tr *Transport, d *fakeDialer) *fakeConn {
	t.Helper()
	tr.Connect(ctx)
	conn := d.nextConn(t)
	pump(t, tr, func() bool { return tr.State() == StateOpen })
	return conn
}

func frameBytes(t *testing.T, values ...interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return buf.Bytes()
}

func TestCheckConnectsOnlyWhenClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newFakeDialer()
	tr, _, _ := newTestTransport(t, d)

	if tr.State() != StateClosed {
		t.Fatalf("fresh transport should be closed, got %s", tr.State())
	}
	if tr.Tick() != nil {
		t.Fatalf("ticker armed before first connect")
	}

	tr.Check(ctx)
	if tr.Connects() != 1 || tr.State() != StateConnecting {
		t.Fatalf("check on closed: connects=%d state=%s", tr.Connects(), tr.State())
	}
	if tr.Tick() == nil {
		t.Fatalf("connect must arm the check ticker")
	}

	tr.Check(ctx)
	if tr.Connects() != 1 {
		t.Fatalf("check while connecting must be a no-op, connects=%d", tr.Connects())
	}

	conn := d.nextConn(t)
	pump(t, tr, func() bool { return tr.State() == StateOpen })
	tr.Check(ctx)
	if tr.Connects() != 1 {
		t.Fatalf("check while open must be a no-op, connects=%d", tr.Connects())
	}

	// server drops us
	conn.Close()
	pump(t, tr, func() bool { return tr.State() == StateClosed })
	tr.Check(ctx)
	if tr.Connects() != 2 {
		t.Fatalf("check after drop must reconnect exactly once, connects=%d", tr.Connects())
	}
}

func TestDialFailureIsNotSurfaced(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newFakeDialer()
	d.err = errors.New("connection refused")
	tr, _, rec := newTestTransport(t, d)

	tr.Connect(ctx)
	pump(t, tr, func() bool { return tr.State() == StateClosed })
	if rec.Count(zerolog.ErrorLevel) != 0 {
		t.Fatalf("dial failure must not log errors")
	}

	tr.Check(ctx)
	pump(t, tr, func() bool { return tr.State() == StateClosed })
	if tr.Connects() != 2 {
		t.Fatalf("expected second attempt, connects=%d", tr.Connects())
	}
}

func TestFlushWritesInFIFOOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newFakeDialer()
	tr, _, _ := newTestTransport(t, d)
	conn := openTransport(t, ctx, tr, d)

	tr.Send(wire.CodeHello, wire.HelloMessage{Hello: "first"})
	tr.Send(wire.CodeRender, wire.RenderMessage{Area: &wire.Area{Right: 4, Bottom: 4}})
	tr.Send(wire.CodeHello, wire.HelloMessage{Hello: "last"})
	if len(conn.frames()) != 0 {
		t.Fatalf("send must defer encoding until flush")
	}
	if tr.Pending() != 3 {
		t.Fatalf("unexpected pending count %d", tr.Pending())
	}

	tr.Flush()
	frames := conn.frames()
	if len(frames) != 3 || tr.Pending() != 0 {
		t.Fatalf("expected 3 frames written, got %d (pending %d)", len(frames), tr.Pending())
	}
	want := []wire.Message{
		wire.HelloMessage{Hello: "first"},
		wire.RenderMessage{},
		wire.HelloMessage{Hello: "last"},
	}
	for i, data := range frames {
		msg, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if msg.Code() != want[i].Code() {
			t.Fatalf("frame %d: got %s want %s", i, msg.Code(), want[i].Code())
		}
		if hello, ok := want[i].(wire.HelloMessage); ok && msg.(wire.HelloMessage) != hello {
			t.Fatalf("frame %d: got %+v want %+v", i, msg, hello)
		}
	}
}

func TestSendWhileClosedIsDropped(t *testing.T) {
	d := newFakeDialer()
	tr, _, rec := newTestTransport(t, d)

	tr.Send(wire.CodeHello, wire.HelloMessage{Hello: "lost"})
	tr.Flush()
	if tr.Pending() != 0 {
		t.Fatalf("flush must drain the queue")
	}
	if rec.Count(zerolog.ErrorLevel) != 0 {
		t.Fatalf("dropped sends are not errors")
	}
}

func TestWriteFailureClosesConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newFakeDialer()
	tr, _, _ := newTestTransport(t, d)
	conn := openTransport(t, ctx, tr, d)
	conn.mu.Lock()
	conn.failWrite = errors.New("broken pipe")
	conn.mu.Unlock()

	tr.Send(wire.CodeHello, wire.HelloMessage{Hello: "x"})
	tr.Send(wire.CodeHello, wire.HelloMessage{Hello: "y"})
	tr.Flush()
	if tr.State() != StateClosed {
		t.Fatalf("write failure must close the transport, state=%s", tr.State())
	}
	if !conn.isClosed() {
		t.Fatalf("connection not closed")
	}
}

func TestWellFormedFrameIsForwarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newFakeDialer()
	tr, h, _ := newTestTransport(t, d)
	conn := openTransport(t, ctx, tr, d)

	conn.in <- fakeMessage{websocket.BinaryMessage, frameBytes(t, 44003, map[string]int{"W": 8, "H": 6})}
	pump(t, tr, func() bool { return len(h.frames) == 1 })
	if h.frames[0].Code != wire.CodeCanvasSize {
		t.Fatalf("unexpected code %v", h.frames[0].Code)
	}
}

func TestMalformedFrameIsDroppedWithOneError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newFakeDialer()
	tr, h, rec := newTestTransport(t, d)
	conn := openTransport(t, ctx, tr, d)

	conn.in <- fakeMessage{websocket.BinaryMessage, frameBytes(t, 44003, map[string]int{"W": 8, "H": 6}, 7)}
	pump(t, tr, func() bool { return rec.Count(zerolog.ErrorLevel) > 0 })

	if len(h.frames) != 0 {
		t.Fatalf("malformed frame must not be dispatched")
	}
	if got := rec.Count(zerolog.ErrorLevel); got != 1 {
		t.Fatalf("expected exactly one logged error, got %d", got)
	}
	if tr.State() != StateOpen {
		t.Fatalf("connection must stay open, state=%s", tr.State())
	}
}

func TestTextMessageIsRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newFakeDialer()
	tr, h, rec := newTestTransport(t, d)
	conn := openTransport(t, ctx, tr, d)

	conn.in <- fakeMessage{websocket.TextMessage, []byte("hello")}
	pump(t, tr, func() bool { return rec.Count(zerolog.ErrorLevel) == 1 })
	if len(h.frames) != 0 {
		t.Fatalf("text message must not be dispatched")
	}
}

func TestReconnectRetiresOldGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newFakeDialer()
	tr, _, _ := newTestTransport(t, d)
	first := openTransport(t, ctx, tr, d)

	tr.Connect(ctx)
	if !first.isClosed() {
		t.Fatalf("reconnect must close the previous connection")
	}
	d.nextConn(t)
	// the old reader reports its close; it must not flip the new connection
	pump(t, tr, func() bool {
		if tr.State() == StateClosed {
			t.Fatalf("stale close event applied")
		}
		return tr.State() == StateOpen
	})
	if tr.Connects() != 2 {
		t.Fatalf("unexpected connects %d", tr.Connects())
	}
}
