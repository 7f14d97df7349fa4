package surface

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"testing"
)

var red = color.RGBA{R: 255, A: 255}

func TestResizeDiscardsContent(t *testing.T) {
	s := New(4, 4)
	s.DrawLine(0, 0, 3, 3, red)
	s.Resize(800, 600)
	if s.Width() != 800 || s.Height() != 600 {
		t.Fatalf("unexpected size %dx%d", s.Width(), s.Height())
	}
	if got := s.Image().RGBAAt(0, 0); got != (color.RGBA{}) {
		t.Fatalf("expected cleared pixel, got %+v", got)
	}
}

func TestBlitCopiesBlock(t *testing.T) {
	s := New(10, 10)
	pix := bytes.Repeat([]byte{10, 20, 30, 255}, 4)
	s.Blit(pix, 3, 4, 2, 2)
	for _, p := range [][2]int{{3, 4}, {4, 4}, {3, 5}, {4, 5}} {
		if got := s.Image().RGBAAt(p[0], p[1]); got != (color.RGBA{10, 20, 30, 255}) {
			t.Fatalf("pixel %v not copied: %+v", p, got)
		}
	}
	if got := s.Image().RGBAAt(5, 4); got != (color.RGBA{}) {
		t.Fatalf("pixel outside block touched: %+v", got)
	}
}

func TestBlitClipsAtEdges(t *testing.T) {
	s := New(4, 4)
	pix := make([]byte, 4*3*3)
	for i := 0; i < 9; i++ {
		pix[4*i] = byte(i + 1)
		pix[4*i+3] = 255
	}
	// block starts one pixel up-left of the origin; its centre lands on (0,0)
	s.Blit(pix, -1, -1, 3, 3)
	if got := s.Image().RGBAAt(0, 0).R; got != 5 {
		t.Fatalf("expected centre pixel at origin, got R=%d", got)
	}
	if got := s.Image().RGBAAt(1, 1).R; got != 9 {
		t.Fatalf("expected last pixel at (1,1), got R=%d", got)
	}

	// entirely outside: no panic, no change
	s.Blit(pix, 100, 100, 3, 3)
	s.Blit(pix, 0, 0, 3, 0)
}

func TestBlitIgnoresImpossibleShapes(t *testing.T) {
	s := New(4, 4)
	before := append([]byte(nil), s.Image().Pix...)

	// 4*w*h wraps to zero
	s.Blit(nil, 0, 0, 1<<31, 1<<31)
	s.Blit(bytes.Repeat([]byte{255}, 15), 0, 0, 2, 2)
	s.Blit(bytes.Repeat([]byte{255}, 16), math.MaxInt-1, 0, 2, 2)
	s.Blit(bytes.Repeat([]byte{255}, 16), 0, math.MaxInt-1, 2, 2)

	if !bytes.Equal(before, s.Image().Pix) {
		t.Fatalf("surface changed")
	}
}

func TestDrawLineDiagonal(t *testing.T) {
	s := New(20, 20)
	s.DrawLine(0, 0, 10, 10, red)
	for i := 0; i <= 10; i++ {
		if got := s.Image().RGBAAt(i, i); got != red {
			t.Fatalf("pixel (%d,%d) not red: %+v", i, i, got)
		}
	}
	if got := s.Image().RGBAAt(11, 11); got != (color.RGBA{}) {
		t.Fatalf("line overshot: %+v", got)
	}
	if got := s.Image().RGBAAt(1, 0); got != (color.RGBA{}) {
		t.Fatalf("diagonal must be single-pixel wide: %+v", got)
	}
}

func TestDrawLineReplayIsDeterministic(t *testing.T) {
	draw := func() []byte {
		s := New(32, 32)
		s.DrawLine(2, 30, 29, 1, red)
		s.DrawLine(31.4, 0, -5, 12.6, color.RGBA{G: 255, A: 255})
		s.DrawLine(16, 16, 16, 16, color.RGBA{B: 255, A: 255})
		return append([]byte(nil), s.Image().Pix...)
	}
	if !bytes.Equal(draw(), draw()) {
		t.Fatalf("replaying the same strokes produced different buffers")
	}
}

func TestDrawLineOffSurface(t *testing.T) {
	s := New(8, 8)
	s.DrawLine(-1e12, -1e12, -1e12+5, -1e12, red)
	s.DrawLine(100, 100, 200, 200, red)
	for _, b := range s.Image().Pix {
		if b != 0 {
			t.Fatalf("off-surface line touched the buffer")
		}
	}
}

func TestEncodePNG(t *testing.T) {
	s := New(3, 2)
	var buf bytes.Buffer
	if err := s.EncodePNG(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Fatalf("unexpected bounds %v", b)
	}
}
