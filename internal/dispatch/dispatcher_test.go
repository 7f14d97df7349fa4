package dispatch

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/rs/zerolog"

	"raster-mirror/internal/surface"
	"raster-mirror/internal/testutil/testlog"
	"raster-mirror/internal/wire"
)

type viewRecorder struct {
	replaced int
	updated  int
}

func (v *viewRecorder) SurfaceReplaced() { v.replaced++ }
func (v *viewRecorder) SurfaceUpdated()  { v.updated++ }

func frame(t *testing.T, code wire.Code, payload interface{}) wire.Frame {
	t.Helper()
	data, err := wire.Encode(code, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := wire.SplitFrame(data)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	return f
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *surface.Surface, *viewRecorder, *testlog.Recorder) {
	t.Helper()
	testlog.Start(t)
	logger, rec := testlog.Capture()
	s := surface.New(100, 100)
	v := &viewRecorder{}
	return New(Config{MaxCanvasWidth: 1000, MaxCanvasHeight: 1000}, s, v, logger), s, v, rec
}

func TestCanvasSizeResizes(t *testing.T) {
	d, s, v, _ := newTestDispatcher(t)
	d.HandleFrame(frame(t, wire.CodeCanvasSize, map[string]int{"W": 800, "H": 600}))
	if s.Width() != 800 || s.Height() != 600 {
		t.Fatalf("unexpected size %dx%d", s.Width(), s.Height())
	}
	if v.replaced != 1 || v.updated != 0 {
		t.Fatalf("unexpected view notifications: %+v", v)
	}
}

func TestCanvasSizeAtLimitIsAccepted(t *testing.T) {
	d, s, v, rec := newTestDispatcher(t)
	d.HandleFrame(frame(t, wire.CodeCanvasSize, map[string]int{"W": 1000, "H": 1}))
	if s.Width() != 1000 || s.Height() != 1 || v.replaced != 1 {
		t.Fatalf("resize at the limit rejected: %dx%d", s.Width(), s.Height())
	}
	if rec.Count(zerolog.ErrorLevel) != 0 {
		t.Fatalf("unexpected error logged")
	}
}

func TestLineDrawsRedSegment(t *testing.T) {
	d, s, v, _ := newTestDispatcher(t)
	d.HandleFrame(frame(t, wire.CodeLine, map[string]float64{
		"X1": 0, "Y1": 0, "X2": 10, "Y2": 10, "R": 1, "G": 0, "B": 0,
	}))
	red := color.RGBA{R: 255, A: 255}
	for i := 0; i <= 10; i++ {
		if got := s.Image().RGBAAt(i, i); got != red {
			t.Fatalf("pixel (%d,%d)=%+v, want red", i, i, got)
		}
	}
	if v.updated != 1 {
		t.Fatalf("view not refreshed")
	}
}

func TestImageBlits(t *testing.T) {
	d, s, v, _ := newTestDispatcher(t)
	pix := bytes.Repeat([]byte{0, 0, 255, 255}, 4)
	d.HandleFrame(frame(t, wire.CodeImage, wire.ImageMessage{RGBA: pix, W: 2, H: 2, X: 98, Y: 98}))
	if got := s.Image().RGBAAt(99, 99); got != (color.RGBA{B: 255, A: 255}) {
		t.Fatalf("blit missing: %+v", got)
	}
	if v.updated != 1 {
		t.Fatalf("view not refreshed")
	}
}

func TestRejectedFramesChangeNothing(t *testing.T) {
	tests := []struct {
		name    string
		code    wire.Code
		payload interface{}
	}{
		{"unknown code", wire.Code(9999), map[string]interface{}{}},
		{"outbound-only code", wire.CodeRender, map[string]interface{}{}},
		{"missing height", wire.CodeCanvasSize, map[string]int{"W": 800}},
		{"absent RGBA", wire.CodeImage, map[string]int{"W": 1, "H": 1, "X": 0, "Y": 0}},
		{"image length overflow", wire.CodeImage, map[string]interface{}{"RGBA": []byte{}, "W": 1 << 31, "H": 1 << 31, "X": 0, "Y": 0}},
		{"canvas beyond wire limit", wire.CodeCanvasSize, map[string]int{"W": 1 << 31, "H": 1 << 31}},
		{"canvas wider than configured", wire.CodeCanvasSize, map[string]int{"W": 1001, "H": 10}},
		{"canvas taller than configured", wire.CodeCanvasSize, map[string]int{"W": 10, "H": 1001}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, s, v, rec := newTestDispatcher(t)
			before := append([]byte(nil), s.Image().Pix...)

			d.HandleFrame(frame(t, tt.code, tt.payload))

			if s.Width() != 100 || s.Height() != 100 || !bytes.Equal(before, s.Image().Pix) {
				t.Fatalf("surface changed")
			}
			if v.replaced != 0 || v.updated != 0 {
				t.Fatalf("view notified: %+v", v)
			}
			if got := rec.Count(zerolog.ErrorLevel); got != 1 {
				t.Fatalf("expected exactly one logged error, got %d", got)
			}
		})
	}
}
