package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// metrics bundles the Prometheus collectors the router maintains.
type metrics struct {
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	ingestedTotal  *prometheus.CounterVec
	rateLimitHits  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, subscriberCount func() float64) *metrics {
	factory := promauto.With(reg)
	m := &metrics{
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logtap",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "logtap",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   latencyBuckets,
		}, []string{"method", "route", "status"}),
		ingestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logtap",
			Subsystem: "engine",
			Name:      "logs_ingested_total",
			Help:      "Count of successfully stored log records",
		}, []string{"level"}),
		rateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logtap",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route"}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "logtap",
		Subsystem: "stream",
		Name:      "subscribers",
		Help:      "Currently connected live stream subscribers",
	}, subscriberCount)
	return m
}

func (m *metrics) recordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

func (m *metrics) recordIngested(level string, count int) {
	if m == nil {
		return
	}
	m.ingestedTotal.With(prometheus.Labels{"level": level}).Add(float64(count))
}

func (m *metrics) rateLimitHit(route string) {
	if m == nil {
		return
	}
	m.rateLimitHits.With(prometheus.Labels{"route": route}).Inc()
}
