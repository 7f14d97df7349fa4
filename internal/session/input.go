package session

import (
	"context"
	"image"
	"image/draw"

	"raster-mirror/internal/view"
	"raster-mirror/internal/wire"
)

// Input is one user action, applied on the loop goroutine.
type Input interface {
	apply(s *Session)
}

type PointerDown struct{ X, Y float64 }

type PointerMove struct{ X, Y float64 }

type PointerUp struct{}

// Wheel zooms in when DeltaY is negative.
type Wheel struct{ X, Y, DeltaY float64 }

type SetTool struct{ Tool view.Tool }

// RequestRender asks the server to render the current selection, or the whole
// canvas when nothing is selected.
type RequestRender struct{}

type SendHello struct{ Text string }

func (in PointerDown) apply(s *Session) { s.controller.PointerDown(in.X, in.Y) }
func (in PointerMove) apply(s *Session) { s.controller.PointerMove(in.X, in.Y) }
func (PointerUp) apply(s *Session)      { s.controller.PointerUp() }
func (in Wheel) apply(s *Session)       { s.controller.Wheel(in.X, in.Y, in.DeltaY) }

func (in SetTool) apply(s *Session) {
	s.ui.tool = in.Tool
	s.log.Debug().Str("tool", string(in.Tool)).Msg("tool selected")
}

func (RequestRender) apply(s *Session) {
	s.transport.Send(wire.CodeRender, s.controller.RenderRequest())
}

func (in SendHello) apply(s *Session) {
	s.transport.Send(wire.CodeHello, wire.HelloMessage{Hello: in.Text})
}

type Coords struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Status is a point-in-time view of the session.
type Status struct {
	Connection    string          `json:"connection"`
	Connects      int             `json:"connects"`
	Tool          view.Tool       `json:"tool"`
	Transform     view.Transform  `json:"transform"`
	Selection     *view.Selection `json:"selection,omitempty"`
	Coords        *Coords         `json:"coords,omitempty"`
	SurfaceWidth  int             `json:"surface_width"`
	SurfaceHeight int             `json:"surface_height"`
}

type query struct {
	fn    func()
	reply chan struct{}
}

// inspect runs fn on the loop goroutine and waits for it.
func (s *Session) inspect(ctx context.Context, fn func()) error {
	q := query{fn: fn, reply: make(chan struct{})}
	select {
	case s.queries <- q:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-q.reply
	return nil
}

func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.inspect(ctx, func() {
		st = Status{
			Connection:    s.transport.State().String(),
			Connects:      s.transport.Connects(),
			Tool:          s.ui.tool,
			Transform:     s.controller.Transform(),
			SurfaceWidth:  s.surface.Width(),
			SurfaceHeight: s.surface.Height(),
		}
		if sel, ok := s.controller.Selection(); ok {
			st.Selection = &sel
		}
		if s.ui.coords != nil {
			c := *s.ui.coords
			st.Coords = &c
		}
	})
	return st, err
}

// Viewport returns a copy of the last composed viewport.
func (s *Session) Viewport(ctx context.Context) (*image.RGBA, error) {
	var img *image.RGBA
	err := s.inspect(ctx, func() { img = clone(s.frame) })
	return img, err
}

// Surface returns a copy of the mirrored canvas at native resolution.
func (s *Session) Surface(ctx context.Context) (*image.RGBA, error) {
	var img *image.RGBA
	err := s.inspect(ctx, func() { img = clone(s.surface.Image()) })
	return img, err
}

func clone(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	draw.Draw(dst, dst.Rect, src, src.Rect.Min, draw.Src)
	return dst
}
