// Package control exposes the viewer's pointer, wheel, tool and button inputs
// and its rendered output over HTTP.
package control

import (
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"raster-mirror/internal/metrics"
	"raster-mirror/internal/session"
	"raster-mirror/internal/view"
)

// Viewer is the session surface the routes drive.
type Viewer interface {
	Submit(ctx context.Context, in session.Input) error
	Status(ctx context.Context) (session.Status, error)
	Viewport(ctx context.Context) (*image.RGBA, error)
	Surface(ctx context.Context) (*image.RGBA, error)
}

type pointRequest struct {
	X *float64 `json:"x" binding:"required"`
	Y *float64 `json:"y" binding:"required"`
}

type wheelRequest struct {
	X      *float64 `json:"x" binding:"required"`
	Y      *float64 `json:"y" binding:"required"`
	DeltaY *float64 `json:"delta_y" binding:"required"`
}

type toolRequest struct {
	Tool string `json:"tool" binding:"required"`
}

type helloRequest struct {
	Text string `json:"text"`
}

type Server struct {
	viewer Viewer
	hello  string
	log    zerolog.Logger
	router *gin.Engine
}

// New builds the router. hello is the text sent by POST /hello when the
// request carries none.
func New(v Viewer, hello string, log zerolog.Logger) *Server {
	metrics.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	s := &Server{viewer: v, hello: hello, log: log, router: r}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.POST("/pointer/down", s.pointer(func(x, y float64) session.Input { return session.PointerDown{X: x, Y: y} }))
	s.router.POST("/pointer/move", s.pointer(func(x, y float64) session.Input { return session.PointerMove{X: x, Y: y} }))
	s.router.POST("/pointer/up", func(c *gin.Context) { s.submit(c, session.PointerUp{}) })

	s.router.POST("/wheel", func(c *gin.Context) {
		var req wheelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.submit(c, session.Wheel{X: *req.X, Y: *req.Y, DeltaY: *req.DeltaY})
	})

	s.router.POST("/tool", func(c *gin.Context) {
		var req toolRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tool, err := view.ParseTool(req.Tool)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.submit(c, session.SetTool{Tool: tool})
	})

	s.router.POST("/render", func(c *gin.Context) { s.submit(c, session.RequestRender{}) })

	s.router.POST("/hello", func(c *gin.Context) {
		var req helloRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.Text == "" {
			req.Text = s.hello
		}
		s.submit(c, session.SendHello{Text: req.Text})
	})

	s.router.GET("/state", func(c *gin.Context) {
		st, err := s.viewer.Status(c.Request.Context())
		if err != nil {
			s.unavailable(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})
	s.router.GET("/viewport.png", s.png(s.viewer.Viewport))
	s.router.GET("/surface.png", s.png(s.viewer.Surface))
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) pointer(build func(x, y float64) session.Input) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.submit(c, build(*req.X, *req.Y))
	}
}

func (s *Server) submit(c *gin.Context, in session.Input) {
	if err := s.viewer.Submit(c.Request.Context(), in); err != nil {
		s.unavailable(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) png(get func(context.Context) (*image.RGBA, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		img, err := get(c.Request.Context())
		if err != nil {
			s.unavailable(c, err)
			return
		}
		c.Header("Content-Type", "image/png")
		c.Status(http.StatusOK)
		if err := png.Encode(c.Writer, img); err != nil {
			s.log.Warn().Err(err).Str("path", c.FullPath()).Msg("encode png")
		}
	}
}

func (s *Server) unavailable(c *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("control surface listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	}
}
