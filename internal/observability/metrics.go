package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	protocolRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "depotd",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Protocol requests by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	protocolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "depotd",
			Subsystem: "protocol",
			Name:      "request_duration_seconds",
			Help:      "Request duration from frame read to reply write.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
	framesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "depotd",
			Subsystem: "protocol",
			Name:      "frames_rejected_total",
			Help:      "Frames rejected before dispatch.",
		},
		[]string{"reason"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "depotd",
			Subsystem: "protocol",
			Name:      "active_sessions",
			Help:      "Currently open protocol sessions.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "depotd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "depotd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			protocolRequests,
			protocolDuration,
			framesRejected,
			activeSessions,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordRequest(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	protocolRequests.WithLabelValues(kind, outcome).Inc()
	protocolDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}

func RecordRejectedFrame(reason string) {
	RegisterMetrics()
	framesRejected.WithLabelValues(reason).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
