package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"raster-mirror/internal/wire"
)

// Frame error kinds.
const (
	KindProtocol = "protocol"
	KindPayload  = "payload"
	KindEncode   = "encode"
	KindWrite    = "write"
	KindDropped  = "dropped"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raster",
			Subsystem: "viewer",
			Name:      "frames_received_total",
			Help:      "Inbound frames accepted by the viewer, by command.",
		},
		[]string{"command"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raster",
			Subsystem: "viewer",
			Name:      "frames_sent_total",
			Help:      "Outbound frames written by the viewer, by command.",
		},
		[]string{"command"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raster",
			Subsystem: "viewer",
			Name:      "frame_errors_total",
			Help:      "Frames dropped by the viewer, by failure kind.",
		},
		[]string{"kind"},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raster",
			Subsystem: "viewer",
			Name:      "connects_total",
			Help:      "Connection attempts started by the viewer transport.",
		},
	)
	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raster",
			Subsystem: "viewer",
			Name:      "connection_state",
			Help:      "Current transport state: 0 connecting, 1 open, 2 closed.",
		},
	)

	serverClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raster",
			Subsystem: "renderd",
			Name:      "clients",
			Help:      "Connected viewers.",
		},
	)
	serverBroadcast = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raster",
			Subsystem: "renderd",
			Name:      "frames_broadcast_total",
			Help:      "Frames queued to viewers, by command and outcome.",
		},
		[]string{"command", "queued"},
	)
	renderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "raster",
			Subsystem: "renderd",
			Name:      "render_duration_seconds",
			Help:      "Render job duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived, framesSent, frameErrors, reconnects, connectionState,
			serverClients, serverBroadcast, renderDuration,
		)
	})
}

func RecordFrameReceived(code wire.Code) {
	RegisterMetrics()
	framesReceived.WithLabelValues(code.String()).Inc()
}

func RecordFrameSent(code wire.Code) {
	RegisterMetrics()
	framesSent.WithLabelValues(code.String()).Inc()
}

func RecordFrameError(kind string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(kind).Inc()
}

func RecordConnect() {
	RegisterMetrics()
	reconnects.Inc()
}

func SetConnectionState(state int) {
	RegisterMetrics()
	connectionState.Set(float64(state))
}

func SetServerClients(n int) {
	RegisterMetrics()
	serverClients.Set(float64(n))
}

func RecordBroadcast(code wire.Code, queued bool) {
	RegisterMetrics()
	label := "true"
	if !queued {
		label = "false"
	}
	serverBroadcast.WithLabelValues(code.String(), label).Inc()
}

func RecordRender(d time.Duration) {
	RegisterMetrics()
	renderDuration.Observe(d.Seconds())
}
