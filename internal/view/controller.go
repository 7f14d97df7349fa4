// Package view owns the pan/zoom transform and the selection rectangle and
// turns pointer input into changes of both.
package view

import (
	"fmt"
	"image"
	"math"

	"raster-mirror/internal/wire"
)

// Tool is the externally selected interaction mode.
type Tool string

const (
	ToolMove   Tool = "move"
	ToolSelect Tool = "select"
)

func ParseTool(s string) (Tool, error) {
	switch Tool(s) {
	case ToolMove, ToolSelect:
		return Tool(s), nil
	default:
		return "", fmt.Errorf("unknown tool %q", s)
	}
}

// ToolSource reports the current tool. The controller never changes it.
type ToolSource interface {
	Tool() Tool
}

// Surface is the raster the controller frames.
type Surface interface {
	Bounds() image.Rectangle
	Image() *image.RGBA
}

// Labels shows pointer coordinates and the selection to the user.
type Labels interface {
	Coords(x, y float64)
	Selection(sel Selection)
}

// Redrawer is told whenever the composed view went stale.
type Redrawer interface {
	Redraw()
}

type Config struct {
	ViewportWidth  int
	ViewportHeight int
	// FitFraction is the share of the viewport height a freshly set
	// surface occupies.
	FitFraction float64
	ZoomStep    float64
	// MinScale and MaxScale bound the zoom.
	MinScale float64
	MaxScale float64
}

func DefaultConfig() Config {
	return Config{
		ViewportWidth:  1280,
		ViewportHeight: 720,
		FitFraction:    1.0,
		ZoomStep:       1.05,
		MinScale:       1e-4,
		MaxScale:       1e4,
	}
}

type Controller struct {
	cfg     Config
	tools   ToolSource
	labels  Labels
	redraw  Redrawer
	surface Surface

	t   Transform
	sel *Selection

	down     bool
	originX  float64
	originY  float64
	snapshot Transform
}

func New(cfg Config, s Surface, tools ToolSource, labels Labels, redraw Redrawer) *Controller {
	def := DefaultConfig()
	if cfg.FitFraction <= 0 {
		cfg.FitFraction = def.FitFraction
	}
	if cfg.ZoomStep <= 1 {
		cfg.ZoomStep = def.ZoomStep
	}
	if cfg.MinScale <= 0 {
		cfg.MinScale = def.MinScale
	}
	if cfg.MaxScale < cfg.MinScale {
		cfg.MaxScale = math.Max(def.MaxScale, cfg.MinScale)
	}
	c := &Controller{
		cfg:    cfg,
		tools:  tools,
		labels: labels,
		redraw: redraw,
	}
	c.SetSurface(s)
	return c
}

func (c *Controller) Transform() Transform { return c.t }

func (c *Controller) Selection() (Selection, bool) {
	if c.sel == nil {
		return Selection{}, false
	}
	return *c.sel, true
}

func (c *Controller) Viewport() image.Rectangle {
	return image.Rect(0, 0, c.cfg.ViewportWidth, c.cfg.ViewportHeight)
}

// SetSurface frames a new surface: its height fills FitFraction of the
// viewport, the translate returns to the origin and the selection is cleared.
func (c *Controller) SetSurface(s Surface) {
	c.surface = s
	c.t = Transform{Scale: 1}
	if h := s.Bounds().Dy(); h > 0 && c.cfg.ViewportHeight > 0 {
		c.t.Scale = c.boundScale(c.cfg.FitFraction * float64(c.cfg.ViewportHeight) / float64(h))
	}
	c.sel = nil
	c.down = false
	c.redraw.Redraw()
}

// Refresh reports that the surface content changed in place.
func (c *Controller) Refresh() {
	c.redraw.Redraw()
}

func (c *Controller) PointerDown(x, y float64) {
	c.down = true
	c.originX, c.originY = x, y
	c.snapshot = c.t
}

func (c *Controller) PointerUp() {
	c.down = false
}

func (c *Controller) PointerMove(x, y float64) {
	switch c.tools.Tool() {
	case ToolMove:
		if c.down {
			c.t.TX = c.snapshot.TX + x - c.originX
			c.t.TY = c.snapshot.TY + y - c.originY
			c.clamp()
			c.redraw.Redraw()
		}
		c.labels.Coords(c.t.ToImage(x, y))
	case ToolSelect:
		if !c.down {
			return
		}
		sx, sy := c.t.ToImage(c.originX, c.originY)
		ex, ey := c.t.ToImage(x, y)
		sel := NewSelection(sx, sy, ex, ey)
		c.sel = &sel
		c.redraw.Redraw()
		c.labels.Selection(sel)
	}
}

// Wheel zooms around the cursor; deltaY < 0 zooms in. The image point under
// the cursor stays put unless the overscroll clamp has to move it.
func (c *Controller) Wheel(x, y, deltaY float64) {
	if c.tools.Tool() != ToolMove || deltaY == 0 {
		return
	}
	ix, iy := c.t.ToImage(x, y)
	if deltaY < 0 {
		c.t.Scale = c.boundScale(c.t.Scale * c.cfg.ZoomStep)
	} else {
		c.t.Scale = c.boundScale(c.t.Scale / c.cfg.ZoomStep)
	}
	c.t.TX = x - ix*c.t.Scale
	c.t.TY = y - iy*c.t.Scale
	c.clamp()
	c.redraw.Redraw()
}

// RenderRequest scopes a render to the current selection, if any.
func (c *Controller) RenderRequest() wire.RenderMessage {
	if c.sel == nil {
		return wire.RenderMessage{}
	}
	area := c.sel.Area()
	return wire.RenderMessage{Area: &area}
}

func (c *Controller) boundScale(s float64) float64 {
	return math.Min(math.Max(s, c.cfg.MinScale), c.cfg.MaxScale)
}

// clamp pins the translate at or below zero on every axis where the scaled
// surface is larger than the viewport.
func (c *Controller) clamp() {
	b := c.surface.Bounds()
	if float64(b.Dx())*c.t.Scale > float64(c.cfg.ViewportWidth) && c.t.TX > 0 {
		c.t.TX = 0
	}
	if float64(b.Dy())*c.t.Scale > float64(c.cfg.ViewportHeight) && c.t.TY > 0 {
		c.t.TY = 0
	}
}
