// Package metrics exposes the operational metrics of the gateway in
// Prometheus format. This is the ambient counterpart of the monitor
// package: the monitor answers the stats API with exact windowed numbers,
// while these collectors feed a scraping infrastructure.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace         = "portmux"
	promDispatchSubsystem = "dispatch"
)

// Metrics holds the Prometheus collectors of the dispatch pipeline.
type Metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	handler    http.Handler
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promDispatchSubsystem,
		Name:      "requests_total",
		Help:      "The total of dispatched requests by handler and status code.",
	}, []string{"handler", "code"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: promNamespace,
		Subsystem: promDispatchSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of a dispatched request.",
	}, []string{"handler"})

	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promDispatchSubsystem,
		Name:      "rejections_total",
		Help:      "The total of requests refused before reaching a handler, by reason.",
	}, []string{"reason"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(requests, duration, rejections)

	return &Metrics{
		registry:   registry,
		requests:   requests,
		duration:   duration,
		rejections: rejections,
		handler:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
}

// ObserveDispatch counts one completed dispatch and its duration.
func (m *Metrics) ObserveDispatch(handler string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}

	if handler == "" {
		handler = "unknown"
	}

	m.requests.WithLabelValues(handler, strconv.Itoa(statusCode)).Inc()
	m.duration.WithLabelValues(handler).Observe(elapsed.Seconds())
}

// IncRejection counts one refused request by reason.
func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}

	m.rejections.WithLabelValues(reason).Inc()
}

// Handler returns the exposition endpoint for the collectors.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}
