package view

import (
	"image"
	"math"

	"raster-mirror/internal/wire"
)

// Transform maps image space to screen space: screen = image*Scale + T.
type Transform struct {
	Scale float64 `json:"scale"`
	TX    float64 `json:"tx"`
	TY    float64 `json:"ty"`
}

// ToImage maps a screen point to image space.
func (t Transform) ToImage(x, y float64) (float64, float64) {
	return (x - t.TX) / t.Scale, (y - t.TY) / t.Scale
}

// ToScreen maps an image point to screen space.
func (t Transform) ToScreen(x, y float64) (float64, float64) {
	return x*t.Scale + t.TX, y*t.Scale + t.TY
}

// Selection is an image-space rectangle with Left <= Right and Top <= Bottom.
type Selection struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// NewSelection normalizes two image-space corners and floors them.
func NewSelection(x1, y1, x2, y2 float64) Selection {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Selection{
		Left:   int(math.Floor(x1)),
		Top:    int(math.Floor(y1)),
		Right:  int(math.Floor(x2)),
		Bottom: int(math.Floor(y2)),
	}
}

// Area converts the selection to its wire form.
func (s Selection) Area() wire.Area {
	return wire.Area{Left: s.Left, Top: s.Top, Right: s.Right, Bottom: s.Bottom}
}

// Outline is the rectangle whose one-pixel border surrounds the selection,
// one pixel outside it on every side.
func (s Selection) Outline() image.Rectangle {
	return image.Rect(s.Left-1, s.Top-1, s.Right+2, s.Bottom+2)
}
