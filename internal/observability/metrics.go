package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream service labels.
const (
	ServiceOAuth      = "oauth"
	ServiceSynthesize = "synthesize"
	ServiceRecognize  = "recognize"
	ServiceTranscode  = "transcode"
)

// Metrics groups all Prometheus instruments used by the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RelayRequests   *prometheus.CounterVec
	UpstreamErrors  *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
	TokenRenewals   *prometheus.CounterVec
	Transcodes      *prometheus.CounterVec

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RelayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Relay requests by route and response status.",
		}, []string{"route", "status"}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Speech provider errors by service and code.",
		}, []string{"service", "code"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_ms",
			Help:      "Speech provider call latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
		}, []string{"service"}),
		TokenRenewals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_renewals_total",
			Help:      "Bearer token renewals by result.",
		}, []string{"result"}),
		Transcodes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcodes_total",
			Help:      "Recognition payload transcodes by result.",
		}, []string{"result"}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveRelayRequest(route string, status int) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveUpstream(service string, d time.Duration, code string) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.UpstreamLatency.WithLabelValues(service).Observe(ms)
	m.window.Observe(service, ms)
	if code != "" {
		m.UpstreamErrors.WithLabelValues(service, code).Inc()
		m.window.ObserveOutcome(service + "_" + code)
	}
}

// SnapshotLatency returns rolling per-service latency percentiles.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil || m.window == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.window.Reset()
}

func (m *Metrics) ObserveTokenRenewal(result string) {
	if m == nil {
		return
	}
	m.TokenRenewals.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTranscode(result string) {
	if m == nil {
		return
	}
	m.Transcodes.WithLabelValues(result).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
