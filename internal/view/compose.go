package view

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

var outlineColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// Compose renders the surface into a viewport-sized image through the current
// transform and outlines the selection.
func (c *Controller) Compose() *image.RGBA {
	dst := image.NewRGBA(c.Viewport())
	src := c.surface.Image()
	if !src.Rect.Empty() {
		s2d := f64.Aff3{
			c.t.Scale, 0, c.t.TX,
			0, c.t.Scale, c.t.TY,
		}
		xdraw.NearestNeighbor.Transform(dst, s2d, src, src.Rect, xdraw.Src, nil)
	}
	if c.sel != nil {
		c.strokeImageRect(dst, c.sel.Outline(), outlineColor)
	}
	return dst
}

// strokeImageRect draws the one-image-pixel border of r, scaled to screen.
func (c *Controller) strokeImageRect(dst *image.RGBA, r image.Rectangle, col color.Color) {
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
		image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
	}
	fill := &image.Uniform{C: col}
	for _, e := range edges {
		draw.Draw(dst, c.screenRect(e), fill, image.Point{}, draw.Src)
	}
}

// screenRect maps an image-space rectangle to the screen pixels it covers,
// never thinner than one pixel.
func (c *Controller) screenRect(r image.Rectangle) image.Rectangle {
	x0, y0 := c.t.ToScreen(float64(r.Min.X), float64(r.Min.Y))
	x1, y1 := c.t.ToScreen(float64(r.Max.X), float64(r.Max.Y))
	sr := image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Ceil(x1)), int(math.Ceil(y1)),
	)
	if sr.Dx() == 0 {
		sr.Max.X++
	}
	if sr.Dy() == 0 {
		sr.Max.Y++
	}
	return sr
}
