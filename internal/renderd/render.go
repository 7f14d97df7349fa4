package renderd

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"raster-mirror/internal/metrics"
	"raster-mirror/internal/wire"
)

const tracerName = "raster-mirror/renderd"

var outlineColor = wire.LineMessage{R: 1}

// Render fills area (the whole canvas when nil) with the Mandelbrot set,
// broadcasts it in horizontal tiles and then outlines it in red.
func (s *Server) Render(ctx context.Context, area *wire.Area) (err error) {
	start := time.Now()
	_, span := otel.Tracer(tracerName).Start(ctx, "renderd.render", trace.WithSpanKind(trace.SpanKindInternal))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.RecordRender(time.Since(start))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.canvas.Bounds()
	if area != nil {
		// clamp before the +1 so an edge at MaxInt cannot wrap
		right := minInt(area.Right, r.Max.X-1)
		bottom := minInt(area.Bottom, r.Max.Y-1)
		r = image.Rect(area.Left, area.Top, right+1, bottom+1).Intersect(r)
	}
	span.SetAttributes(
		attribute.Int("render.left", r.Min.X),
		attribute.Int("render.top", r.Min.Y),
		attribute.Int("render.width", r.Dx()),
		attribute.Int("render.height", r.Dy()),
	)
	if r.Empty() {
		s.log.Debug().Msg("render area outside canvas")
		return nil
	}

	img := s.canvas.Image()
	fillMandelbrot(img, r, s.cfg.MaxIterations)

	tiles := 0
	for y := r.Min.Y; y < r.Max.Y; y += s.cfg.TileRows {
		tile := image.Rect(r.Min.X, y, r.Max.X, minInt(y+s.cfg.TileRows, r.Max.Y))
		if err := s.hub.Broadcast(wire.CodeImage, wire.ImageMessage{
			RGBA: copyPixels(img, tile),
			W:    tile.Dx(),
			H:    tile.Dy(),
			X:    tile.Min.X,
			Y:    tile.Min.Y,
		}); err != nil {
			return fmt.Errorf("broadcast tile: %w", err)
		}
		tiles++
	}

	left, top := float64(r.Min.X), float64(r.Min.Y)
	right, bottom := float64(r.Max.X-1), float64(r.Max.Y-1)
	for _, edge := range [][4]float64{
		{left, top, right, top},
		{right, top, right, bottom},
		{right, bottom, left, bottom},
		{left, bottom, left, top},
	} {
		line := outlineColor
		line.X1, line.Y1, line.X2, line.Y2 = edge[0], edge[1], edge[2], edge[3]
		s.canvas.DrawLine(line.X1, line.Y1, line.X2, line.Y2, line.Color())
		if err := s.hub.Broadcast(wire.CodeLine, line); err != nil {
			return fmt.Errorf("broadcast outline: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("render.tiles", tiles))
	s.log.Info().Int("tiles", tiles).Int("clients", s.hub.Count()).Dur("took", time.Since(start)).Msg("render done")
	return nil
}

// fillMandelbrot colors r, mapping the full canvas onto [-2.5,1]x[-1.25,1.25].
func fillMandelbrot(img *image.RGBA, r image.Rectangle, maxIter int) {
	w, h := float64(img.Rect.Dx()), float64(img.Rect.Dy())
	for py := r.Min.Y; py < r.Max.Y; py++ {
		ci := -1.25 + 2.5*float64(py)/h
		for px := r.Min.X; px < r.Max.X; px++ {
			cr := -2.5 + 3.5*float64(px)/w
			img.SetRGBA(px, py, shade(escape(cr, ci, maxIter), maxIter))
		}
	}
}

func escape(cr, ci float64, maxIter int) int {
	var zr, zi float64
	for i := 0; i < maxIter; i++ {
		zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
		if zr*zr+zi*zi > 4 {
			return i
		}
	}
	return maxIter
}

func shade(n, maxIter int) color.RGBA {
	if n >= maxIter {
		return color.RGBA{A: 0xff}
	}
	t := float64(n) / float64(maxIter)
	return color.RGBA{
		R: uint8(9 * (1 - t) * t * t * t * 255),
		G: uint8(15 * (1 - t) * (1 - t) * t * t * 255),
		B: uint8(8.5 * (1 - t) * (1 - t) * (1 - t) * t * 255),
		A: 0xff,
	}
}

// copyPixels returns r's pixels as tightly packed RGBA rows.
func copyPixels(img *image.RGBA, r image.Rectangle) []byte {
	rowLen := r.Dx() * 4
	out := make([]byte, 0, rowLen*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		out = append(out, img.Pix[off:off+rowLen]...)
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
