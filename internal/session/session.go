// Package session runs the viewer's single-threaded event loop. It owns the
// surface, the view controller, the dispatcher and the transport; nothing
// outside the loop goroutine touches them.
package session

import (
	"context"
	"errors"
	"image"

	"github.com/rs/zerolog"

	"raster-mirror/internal/config"
	"raster-mirror/internal/dispatch"
	"raster-mirror/internal/logging"
	"raster-mirror/internal/surface"
	"raster-mirror/internal/transport"
	"raster-mirror/internal/view"
)

// ErrStopped is returned by Submit and the queries once Run has returned.
var ErrStopped = errors.New("session stopped")

type Session struct {
	cfg config.ViewerConfig
	log zerolog.Logger

	surface    *surface.Surface
	controller *view.Controller
	dispatcher *dispatch.Dispatcher
	transport  *transport.Transport
	ui         *uiState

	frame *image.RGBA

	inputs  chan Input
	queries chan query
	done    chan struct{}
}

// New builds a session that dials cfg.Endpoint over a websocket.
func New(cfg config.ViewerConfig, log zerolog.Logger) *Session {
	return NewWithDialer(cfg, transport.NewWebSocketDialer(cfg.Endpoint, cfg.DialTimeout), log)
}

// NewWithDialer builds a session on top of an arbitrary dialer.
func NewWithDialer(cfg config.ViewerConfig, dialer transport.Dialer, log zerolog.Logger) *Session {
	s := &Session{
		cfg:     cfg,
		log:     logging.Component(log, "session"),
		surface: surface.New(cfg.InitialWidth, cfg.InitialHeight),
		ui:      &uiState{tool: view.ToolMove},
		inputs:  make(chan Input, 64),
		queries: make(chan query),
		done:    make(chan struct{}),
	}
	s.ui.log = logging.Component(log, "view")
	s.controller = view.New(view.Config{
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		FitFraction:    cfg.FitFraction,
		ZoomStep:       cfg.ZoomStep,
	}, s.surface, s.ui, s.ui, s.ui)
	s.dispatcher = dispatch.New(dispatch.Config{
		MaxCanvasWidth:  cfg.MaxCanvasWidth,
		MaxCanvasHeight: cfg.MaxCanvasHeight,
	}, s.surface, (*surfaceEvents)(s), logging.Component(log, "dispatch"))
	s.transport = transport.New(transport.Config{
		CheckInterval: cfg.CheckInterval,
		DialTimeout:   cfg.DialTimeout,
		WriteTimeout:  cfg.WriteTimeout,
	}, dialer, s.dispatcher, logging.Component(log, "transport"))
	s.repaint()
	return s
}

// Run connects and processes events until ctx is cancelled. It must be
// called once.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.log.Info().Str("endpoint", s.cfg.Endpoint).Msg("session started")
	s.transport.Connect(ctx)
	for {
		select {
		case <-ctx.Done():
			s.transport.Close()
			s.log.Info().Msg("session stopped")
			return nil
		case ev := <-s.transport.Events():
			s.transport.Handle(ev)
		case <-s.transport.Tick():
			s.transport.Check(ctx)
		case in := <-s.inputs:
			in.apply(s)
		case q := <-s.queries:
			s.repaint()
			q.fn()
			close(q.reply)
		}
		s.transport.Flush()
		s.repaint()
	}
}

// Submit posts one input to the loop.
func (s *Session) Submit(ctx context.Context, in Input) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.inputs <- in:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// repaint recomposes the viewport when something asked for a redraw since the
// last one.
func (s *Session) repaint() {
	if !s.ui.dirty && s.frame != nil {
		return
	}
	s.frame = s.controller.Compose()
	s.ui.dirty = false
}

// surfaceEvents forwards dispatcher notifications to the controller.
type surfaceEvents Session

func (e *surfaceEvents) SurfaceReplaced() {
	e.controller.SetSurface(e.surface)
}

func (e *surfaceEvents) SurfaceUpdated() {
	e.controller.Refresh()
}

// uiState stands in for the on-screen widgets: the tool picker, the
// coordinate and selection labels, and the repaint flag.
type uiState struct {
	log   zerolog.Logger
	tool  view.Tool
	dirty bool

	coords *Coords
}

func (u *uiState) Tool() view.Tool { return u.tool }

func (u *uiState) Redraw() { u.dirty = true }

func (u *uiState) Coords(x, y float64) {
	u.coords = &Coords{X: x, Y: y}
	u.log.Debug().Float64("x", x).Float64("y", y).Msg("pointer")
}

func (u *uiState) Selection(sel view.Selection) {
	u.log.Debug().
		Int("left", sel.Left).Int("top", sel.Top).
		Int("right", sel.Right).Int("bottom", sel.Bottom).
		Msg("selection")
}
