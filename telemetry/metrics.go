// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesIngested  *prometheus.CounterVec
	MessagesPublished prometheus.Counter
	MessagesFiltered  prometheus.Counter
	FramesDropped     prometheus.Counter
	TokenRefreshes    *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec

	// Gauges
	ClientsGauge    prometheus.Gauge
	BacklogGauge    prometheus.Gauge
	QueueDepthGauge prometheus.Gauge
	ConnectorsLive  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmux_messages_ingested_total", Help: "Normalized messages ingested per platform"}, []string{"platform"})
		MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmux_messages_published_total", Help: "Messages fanned out to client sessions"})
		MessagesFiltered = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmux_messages_filtered_total", Help: "Messages dropped by transform stages before fan-out"})
		FramesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmux_frames_dropped_total", Help: "Chat frames shed by client queues under backpressure"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmux_token_refreshes_total", Help: "Token refresh attempts per platform and outcome"}, []string{"platform", "outcome"})
		StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmux_connector_transitions_total", Help: "Connector supervision state transitions"}, []string{"platform", "state"})
		ClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmux_clients_connected", Help: "Currently attached display clients"})
		BacklogGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmux_backlog_size", Help: "Current backlog buffer occupancy"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmux_client_queue_depth", Help: "Summed queue depth across client sessions"})
		ConnectorsLive = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmux_connectors_live", Help: "Connectors currently in the live state"})
	})
}

// CountIngest records one ingested message for a platform.
func CountIngest(platform string) {
	if MessagesIngested != nil {
		MessagesIngested.WithLabelValues(platform).Inc()
	}
}

// CountPublish records one fan-out publish.
func CountPublish() {
	if MessagesPublished != nil {
		MessagesPublished.Inc()
	}
}

// CountFiltered records a message dropped by the transform pipeline.
func CountFiltered() {
	if MessagesFiltered != nil {
		MessagesFiltered.Inc()
	}
}

// CountFrameDrop records a chat frame shed under client backpressure.
func CountFrameDrop() {
	if FramesDropped != nil {
		FramesDropped.Inc()
	}
}

// CountTokenRefresh records a refresh attempt outcome ("ok" or "error").
func CountTokenRefresh(platform, outcome string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(platform, outcome).Inc()
	}
}

// CountTransition records a connector supervision transition.
func CountTransition(platform, state string) {
	if StateTransitions != nil {
		StateTransitions.WithLabelValues(platform, state).Inc()
	}
}

// SetClients records the number of attached display clients.
func SetClients(n int) {
	if ClientsGauge != nil {
		ClientsGauge.Set(float64(n))
	}
}

// SetBacklogSize records current backlog occupancy.
func SetBacklogSize(n int) {
	if BacklogGauge != nil {
		BacklogGauge.Set(float64(n))
	}
}

// SetQueueDepth records the summed client queue depth.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetConnectorsLive records how many connectors are in the live state.
func SetConnectorsLive(n int) {
	if ConnectorsLive != nil {
		ConnectorsLive.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
