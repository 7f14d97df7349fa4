// Package surface holds the local RGBA mirror of the render server's canvas.
package surface

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
)

// Surface is an in-memory raster buffer. It is not safe for concurrent use;
// the owning session mutates and reads it from a single goroutine.
type Surface struct {
	img *image.RGBA
}

// New allocates a transparent w×h surface.
func New(w, h int) *Surface {
	s := &Surface{}
	s.Resize(w, h)
	return s
}

// Resize reallocates the buffer. Prior content is discarded.
func (s *Surface) Resize(w, h int) {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	s.img = image.NewRGBA(image.Rect(0, 0, w, h))
}

func (s *Surface) Width() int  { return s.img.Rect.Dx() }
func (s *Surface) Height() int { return s.img.Rect.Dy() }

// Bounds returns the surface rectangle, always anchored at the origin.
func (s *Surface) Bounds() image.Rectangle { return s.img.Rect }

// Image exposes the backing buffer for composition. Callers must not keep it
// across a Resize.
func (s *Surface) Image() *image.RGBA { return s.img }

// Blit copies a w×h block of RGBA bytes to (x, y). Parts falling outside the
// surface are clipped; a block with fewer than 4*w*h bytes is ignored.
func (s *Surface) Blit(rgba []byte, x, y, w, h int) {
	if w <= 0 || h <= 0 || len(rgba)/4/w < h {
		return
	}
	if x >= s.Width() || y >= s.Height() || x <= -w || y <= -h {
		return
	}
	src := &image.RGBA{Pix: rgba, Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}
	dst := image.Rect(x, y, x+w, y+h)
	draw.Draw(s.img, dst, src, image.Point{}, draw.Src)
}

// DrawLine strokes a single-pixel line between the rounded endpoints using
// Bresenham's algorithm. Pixels outside the surface are skipped.
func (s *Surface) DrawLine(x1, y1, x2, y2 float64, c color.RGBA) {
	x0, y0 := round(x1), round(y1)
	xe, ye := round(x2), round(y2)
	if !image.Rect(x0, y0, xe, ye).Inset(-1).Overlaps(s.img.Rect) {
		return
	}

	dx := abs(xe - x0)
	dy := -abs(ye - y0)
	sx, sy := 1, 1
	if x0 > xe {
		sx = -1
	}
	if y0 > ye {
		sy = -1
	}
	err := dx + dy
	for {
		s.set(x0, y0, c)
		if x0 == xe && y0 == ye {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// EncodePNG writes the current buffer as a PNG image.
func (s *Surface) EncodePNG(w io.Writer) error {
	return png.Encode(w, s.img)
}

func (s *Surface) set(x, y int, c color.RGBA) {
	if !(image.Point{X: x, Y: y}).In(s.img.Rect) {
		return
	}
	s.img.SetRGBA(x, y, c)
}

// coordLimit bounds endpoints so a wild coordinate cannot stall the stroke.
const coordLimit = 1 << 20

func round(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v > coordLimit:
		return coordLimit
	case v < -coordLimit:
		return -coordLimit
	}
	return int(math.Floor(v + 0.5))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
