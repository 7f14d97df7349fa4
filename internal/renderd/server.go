// Package renderd is the render server the viewer mirrors: it owns the
// authoritative canvas, syncs it to every viewer that joins, and renders on
// request.
package renderd

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"raster-mirror/internal/config"
	"raster-mirror/internal/metrics"
	"raster-mirror/internal/surface"
	"raster-mirror/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

type Server struct {
	cfg    config.ServerConfig
	log    zerolog.Logger
	hub    *Hub
	router *gin.Engine

	// mu guards canvas; render jobs and joins hold it so that a joining
	// viewer's sync never interleaves with a render's broadcasts.
	mu     sync.Mutex
	canvas *surface.Surface

	jobs chan *wire.Area
}

func New(cfg config.ServerConfig, log zerolog.Logger) *Server {
	metrics.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		log:    log,
		hub:    NewHub(log),
		router: r,
		canvas: surface.New(cfg.CanvasWidth, cfg.CanvasHeight),
		jobs:   make(chan *wire.Area, 8),
	}
	r.GET("/", s.handleWebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.Count()})
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Hub() *Hub { return s.hub }

// Run serves on cfg.Addr and drains render jobs until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.renderLoop(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("render server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) renderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case area := <-s.jobs:
			if err := s.Render(ctx, area); err != nil {
				s.log.Error().Err(err).Msg("render failed")
			}
		}
	}
}

// requestRender queues a job; requests beyond the queue depth are dropped.
func (s *Server) requestRender(area *wire.Area) {
	select {
	case s.jobs <- area:
	default:
		s.log.Warn().Msg("render queue full, dropping request")
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := newClient(conn, s.cfg.SendBuffer)

	if err := s.join(client); err != nil {
		s.log.Error().Err(err).Str("client", client.ID).Msg("sync failed")
		_ = conn.Close()
		return
	}
	s.log.Info().Str("client", client.ID).Str("remote", conn.RemoteAddr().String()).Msg("viewer joined")

	go client.writePump()
	s.readPump(client)
}

// join queues the canvas size and full content for c, then registers it.
func (s *Server) join(c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := wire.EncodeMessage(wire.CanvasSizeMessage{W: s.canvas.Width(), H: s.canvas.Height()})
	if err != nil {
		return err
	}
	img := s.canvas.Image()
	full, err := wire.EncodeMessage(wire.ImageMessage{
		RGBA: append([]byte(nil), img.Pix...),
		W:    img.Rect.Dx(),
		H:    img.Rect.Dy(),
	})
	if err != nil {
		return err
	}
	c.enqueue(size)
	c.enqueue(full)
	s.hub.AddClient(c)
	return nil
}

func (c *Client) writePump() {
	defer c.Conn.Close()

	for msg := range c.Send {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
	}
}

func (s *Server) readPump(c *Client) {
	defer func() {
		s.hub.RemoveClient(c)
		c.close()
		s.log.Info().Str("client", c.ID).Msg("viewer left")
	}()

	for {
		messageType, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Str("client", c.ID).Msg("websocket error")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			s.log.Warn().Str("client", c.ID).Int("message_type", messageType).Msg("ignoring non-binary message")
			continue
		}
		s.handleFrame(c, data)
	}
}

func (s *Server) handleFrame(c *Client, data []byte) {
	f, err := wire.SplitFrame(data)
	if err != nil {
		s.log.Warn().Err(err).Str("client", c.ID).Msg("dropping malformed frame")
		return
	}
	msg, err := wire.DecodePayload(f.Code, f.Payload)
	if err != nil {
		s.log.Warn().Err(err).Str("client", c.ID).Stringer("command", f.Code).Msg("dropping frame")
		return
	}
	switch m := msg.(type) {
	case wire.HelloMessage:
		s.log.Info().Str("client", c.ID).Str("hello", m.Hello).Msg("got hello")
	case wire.RenderMessage:
		s.log.Debug().Str("client", c.ID).Bool("scoped", m.Area != nil).Msg("render requested")
		s.requestRender(m.Area)
	default:
		s.log.Info().Str("client", c.ID).Stringer("command", f.Code).Msg("ignoring frame")
	}
}
