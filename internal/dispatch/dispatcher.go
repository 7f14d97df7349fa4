// Package dispatch routes inbound frames to the surface and the view.
package dispatch

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/rs/zerolog"

	"raster-mirror/internal/metrics"
	"raster-mirror/internal/wire"
)

// Surface is the raster inbound frames mutate.
type Surface interface {
	Resize(w, h int)
	Blit(rgba []byte, x, y, w, h int)
	DrawLine(x1, y1, x2, y2 float64, c color.RGBA)
}

// View is told how the surface changed after every applied frame.
type View interface {
	// SurfaceReplaced follows a resize.
	SurfaceReplaced()
	// SurfaceUpdated follows an in-place patch.
	SurfaceUpdated()
}

// Config bounds what the server may ask the viewer to allocate.
type Config struct {
	MaxCanvasWidth  int
	MaxCanvasHeight int
}

func DefaultConfig() Config {
	return Config{MaxCanvasWidth: 8192, MaxCanvasHeight: 8192}
}

type Dispatcher struct {
	cfg     Config
	surface Surface
	view    View
	log     zerolog.Logger
}

func New(cfg Config, s Surface, v View, log zerolog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxCanvasWidth <= 0 {
		cfg.MaxCanvasWidth = def.MaxCanvasWidth
	}
	if cfg.MaxCanvasHeight <= 0 {
		cfg.MaxCanvasHeight = def.MaxCanvasHeight
	}
	return &Dispatcher{cfg: cfg, surface: s, view: v, log: log}
}

// HandleFrame applies one inbound frame. Frames that cannot be applied are
// logged once and dropped without touching the surface or the view.
func (d *Dispatcher) HandleFrame(f wire.Frame) {
	msg, err := wire.DecodePayload(f.Code, f.Payload)
	if err != nil {
		d.reject(f.Code, err)
		return
	}
	switch m := msg.(type) {
	case wire.ImageMessage:
		d.surface.Blit(m.RGBA, m.X, m.Y, m.W, m.H)
		d.view.SurfaceUpdated()
	case wire.CanvasSizeMessage:
		if err := d.checkCanvas(m); err != nil {
			d.reject(f.Code, err)
			return
		}
		d.surface.Resize(m.W, m.H)
		d.view.SurfaceReplaced()
		d.log.Debug().Int("w", m.W).Int("h", m.H).Msg("canvas resized")
	case wire.LineMessage:
		d.surface.DrawLine(m.X1, m.Y1, m.X2, m.Y2, m.Color())
		d.view.SurfaceUpdated()
	default:
		d.reject(f.Code, wire.ErrUnknownCommand)
		return
	}
	metrics.RecordFrameReceived(f.Code)
}

func (d *Dispatcher) checkCanvas(m wire.CanvasSizeMessage) error {
	if m.W > d.cfg.MaxCanvasWidth {
		return &wire.PayloadError{Code: wire.CodeCanvasSize, Field: "W",
			Err: fmt.Errorf("%w: width %d exceeds limit %d", wire.ErrInvalidField, m.W, d.cfg.MaxCanvasWidth)}
	}
	if m.H > d.cfg.MaxCanvasHeight {
		return &wire.PayloadError{Code: wire.CodeCanvasSize, Field: "H",
			Err: fmt.Errorf("%w: height %d exceeds limit %d", wire.ErrInvalidField, m.H, d.cfg.MaxCanvasHeight)}
	}
	return nil
}

func (d *Dispatcher) reject(code wire.Code, err error) {
	var perr *wire.PayloadError
	if errors.As(err, &perr) {
		d.log.Error().Err(err).Stringer("command", code).Str("field", perr.Field).Msg("payload error: dropping frame")
		metrics.RecordFrameError(metrics.KindPayload)
		return
	}
	d.log.Error().Err(err).Stringer("command", code).Msg("protocol error: unknown message")
	metrics.RecordFrameError(metrics.KindProtocol)
}
