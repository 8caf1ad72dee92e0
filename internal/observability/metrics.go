package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StageCompletion = "completion"
	StageChatTurn   = "chat_turn"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	LiveConversations  prometheus.Gauge
	CompletionRequests *prometheus.CounterVec
	CompletionRetries  *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	CompletionLatency  prometheus.Histogram
	HTTPRequests       *prometheus.CounterVec
	AuthEvents         *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		LiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_conversations",
			Help:      "Number of conversations held in memory.",
		}),
		CompletionRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_requests_total",
			Help:      "Completion calls by outcome.",
		}, []string{"outcome"}),
		CompletionRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_retries_total",
			Help:      "Completion retries by reason.",
		}, []string{"reason"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_cache_lookups_total",
			Help:      "Completion cache lookups by result.",
		}, []string{"result"}),
		CompletionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Latency of completion calls that reached the network, in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
		AuthEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Authentication events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveCompletion(outcome string, d time.Duration) {
	m.CompletionRequests.WithLabelValues(outcome).Inc()
	if outcome != "ok" {
		return
	}
	ms := float64(d.Milliseconds())
	m.CompletionLatency.Observe(ms)
	m.window.Observe(StageCompletion, ms)
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
	m.window.ObserveIndicator("cache_" + result)
}

func (m *Metrics) ObserveRetry(reason string) {
	m.CompletionRetries.WithLabelValues(reason).Inc()
	m.window.ObserveIndicator("retry")
}

func (m *Metrics) ObserveChatTurn(d time.Duration) {
	m.window.Observe(StageChatTurn, float64(d.Milliseconds()))
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
