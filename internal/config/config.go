package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"raster-mirror/internal/wire"
)

const EnvEndpoint = "RASTER_ENDPOINT"

// ViewerConfig configures the viewer process.
type ViewerConfig struct {
	Endpoint       string
	CheckInterval  time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	ViewportWidth  int
	ViewportHeight int
	FitFraction    float64
	ZoomStep       float64
	InitialWidth   int
	InitialHeight  int
	// MaxCanvasWidth and MaxCanvasHeight cap the canvas the server may resize
	// the viewer to.
	MaxCanvasWidth  int
	MaxCanvasHeight int
	ControlAddr     string
	Hello           string
}

// ServerConfig configures the render server.
type ServerConfig struct {
	Addr          string
	CanvasWidth   int
	CanvasHeight  int
	TileRows      int
	MaxIterations int
	SendBuffer    int
}

func DefaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		Endpoint:        "ws://127.0.0.1:8080/",
		CheckInterval:   500 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ViewportWidth:   1280,
		ViewportHeight:  720,
		FitFraction:     1.0,
		ZoomStep:        1.05,
		InitialWidth:    100,
		InitialHeight:   100,
		MaxCanvasWidth:  8192,
		MaxCanvasHeight: 8192,
		ControlAddr:     "127.0.0.1:8090",
		Hello:           "zdrasti",
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          ":8080",
		CanvasWidth:   640,
		CanvasHeight:  480,
		TileRows:      32,
		MaxIterations: 128,
		SendBuffer:    256,
	}
}

type viewerFile struct {
	Endpoint        *string  `toml:"endpoint" yaml:"endpoint"`
	CheckInterval   *string  `toml:"check_interval" yaml:"check_interval"`
	DialTimeout     *string  `toml:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout    *string  `toml:"write_timeout" yaml:"write_timeout"`
	ViewportWidth   *int     `toml:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  *int     `toml:"viewport_height" yaml:"viewport_height"`
	FitFraction     *float64 `toml:"fit_fraction" yaml:"fit_fraction"`
	ZoomStep        *float64 `toml:"zoom_step" yaml:"zoom_step"`
	InitialWidth    *int     `toml:"initial_width" yaml:"initial_width"`
	InitialHeight   *int     `toml:"initial_height" yaml:"initial_height"`
	MaxCanvasWidth  *int     `toml:"max_canvas_width" yaml:"max_canvas_width"`
	MaxCanvasHeight *int     `toml:"max_canvas_height" yaml:"max_canvas_height"`
	ControlAddr     *string  `toml:"control_addr" yaml:"control_addr"`
	Hello           *string  `toml:"hello" yaml:"hello"`
}

type serverFile struct {
	Addr          *string `toml:"addr" yaml:"addr"`
	CanvasWidth   *int    `toml:"canvas_width" yaml:"canvas_width"`
	CanvasHeight  *int    `toml:"canvas_height" yaml:"canvas_height"`
	TileRows      *int    `toml:"tile_rows" yaml:"tile_rows"`
	MaxIterations *int    `toml:"max_iterations" yaml:"max_iterations"`
	SendBuffer    *int    `toml:"send_buffer" yaml:"send_buffer"`
}

// LoadViewerConfig reads path over the defaults. An empty path keeps the
// defaults; RASTER_ENDPOINT overrides the endpoint either way.
func LoadViewerConfig(path string) (ViewerConfig, error) {
	cfg := DefaultViewerConfig()
	if path != "" {
		var raw viewerFile
		if err := decodeFile(path, &raw); err != nil {
			return ViewerConfig{}, err
		}
		if err := raw.apply(&cfg); err != nil {
			return ViewerConfig{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		cfg.Endpoint = v
	}
	if err := ValidateViewerConfig(cfg); err != nil {
		return ViewerConfig{}, err
	}
	return cfg, nil
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		var raw serverFile
		if err := decodeFile(path, &raw); err != nil {
			return ServerConfig{}, err
		}
		raw.apply(&cfg)
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// decodeFile picks the decoder from the file extension and rejects keys the
// target does not know.
func decodeFile(path string, out interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, out)
		if err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
		return nil
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("config load failed (%s): %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("config %s: unsupported format %q", path, filepath.Ext(path))
	}
}

func (f viewerFile) apply(cfg *ViewerConfig) error {
	if f.Endpoint != nil {
		cfg.Endpoint = strings.TrimSpace(*f.Endpoint)
	}
	for _, d := range []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"check_interval", f.CheckInterval, &cfg.CheckInterval},
		{"dial_timeout", f.DialTimeout, &cfg.DialTimeout},
		{"write_timeout", f.WriteTimeout, &cfg.WriteTimeout},
	} {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(*d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	setInt(&cfg.ViewportWidth, f.ViewportWidth)
	setInt(&cfg.ViewportHeight, f.ViewportHeight)
	setInt(&cfg.InitialWidth, f.InitialWidth)
	setInt(&cfg.InitialHeight, f.InitialHeight)
	setInt(&cfg.MaxCanvasWidth, f.MaxCanvasWidth)
	setInt(&cfg.MaxCanvasHeight, f.MaxCanvasHeight)
	if f.FitFraction != nil {
		cfg.FitFraction = *f.FitFraction
	}
	if f.ZoomStep != nil {
		cfg.ZoomStep = *f.ZoomStep
	}
	if f.ControlAddr != nil {
		cfg.ControlAddr = strings.TrimSpace(*f.ControlAddr)
	}
	if f.Hello != nil {
		cfg.Hello = *f.Hello
	}
	return nil
}

func (f serverFile) apply(cfg *ServerConfig) {
	if f.Addr != nil {
		cfg.Addr = strings.TrimSpace(*f.Addr)
	}
	setInt(&cfg.CanvasWidth, f.CanvasWidth)
	setInt(&cfg.CanvasHeight, f.CanvasHeight)
	setInt(&cfg.TileRows, f.TileRows)
	setInt(&cfg.MaxIterations, f.MaxIterations)
	setInt(&cfg.SendBuffer, f.SendBuffer)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func ValidateViewerConfig(cfg ViewerConfig) error {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("viewer config endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("viewer config endpoint must be ws:// or wss://, got %q", cfg.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("viewer config endpoint missing host")
	}
	if cfg.CheckInterval <= 0 {
		return fmt.Errorf("viewer config check_interval must be positive")
	}
	if cfg.DialTimeout < 0 || cfg.WriteTimeout < 0 {
		return fmt.Errorf("viewer config timeouts must not be negative")
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		return fmt.Errorf("viewer config viewport must be positive, got %dx%d", cfg.ViewportWidth, cfg.ViewportHeight)
	}
	if cfg.FitFraction <= 0 {
		return fmt.Errorf("viewer config fit_fraction must be positive")
	}
	if cfg.ZoomStep <= 1 {
		return fmt.Errorf("viewer config zoom_step must be greater than 1")
	}
	if cfg.InitialWidth < 0 || cfg.InitialHeight < 0 {
		return fmt.Errorf("viewer config initial size must not be negative")
	}
	if cfg.MaxCanvasWidth <= 0 || cfg.MaxCanvasHeight <= 0 ||
		cfg.MaxCanvasWidth > wire.MaxDimension || cfg.MaxCanvasHeight > wire.MaxDimension {
		return fmt.Errorf("viewer config max canvas must be within 1..%d, got %dx%d",
			wire.MaxDimension, cfg.MaxCanvasWidth, cfg.MaxCanvasHeight)
	}
	if cfg.InitialWidth > cfg.MaxCanvasWidth || cfg.InitialHeight > cfg.MaxCanvasHeight {
		return fmt.Errorf("viewer config initial size exceeds max canvas")
	}
	if strings.TrimSpace(cfg.ControlAddr) == "" {
		return fmt.Errorf("viewer config missing control_addr")
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("server config missing addr")
	}
	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		return fmt.Errorf("server config canvas must be positive, got %dx%d", cfg.CanvasWidth, cfg.CanvasHeight)
	}
	if cfg.TileRows <= 0 {
		return fmt.Errorf("server config tile_rows must be positive")
	}
	if cfg.MaxIterations <= 0 {
		return fmt.Errorf("server config max_iterations must be positive")
	}
	if cfg.SendBuffer <= 0 {
		return fmt.Errorf("server config send_buffer must be positive")
	}
	return nil
}
