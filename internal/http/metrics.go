package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds request metrics registered on one registry.
type HTTPMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestDur     *prometheus.HistogramVec
	responseSize   *prometheus.HistogramVec
	activeRequests prometheus.Gauge
}

// NewHTTPMetrics registers the request metrics on reg. A nil reg uses the
// default registerer.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &HTTPMetrics{
		// Labels: method, endpoint (route pattern), status
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "knowledged",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, route and status code",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDur: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "knowledged",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint", "status"},
		),
		responseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "knowledged",
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "HTTP response body size in bytes",
				Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
			},
			[]string{"method", "endpoint", "status"},
		),
		activeRequests: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "knowledged",
				Subsystem: "http",
				Name:      "active_requests",
				Help:      "Number of in-flight HTTP requests",
			},
		),
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			err := next(c)
			if err != nil {
				// Let echo write the error response so the status is final.
				c.Error(err)
			}

			labels := prometheus.Labels{
				"method":   c.Request().Method,
				"endpoint": normalizePath(c.Path()),
				"status":   strconv.Itoa(c.Response().Status),
			}
			m.requestsTotal.With(labels).Inc()
			m.requestDur.With(labels).Observe(time.Since(start).Seconds())
			m.responseSize.With(labels).Observe(float64(c.Response().Size))
			return nil
		}
	}
}

// normalizePath maps unmatched requests to one label value. Matched requests
// already report the route pattern (/api/v1/documents/:title), so titles
// never become label values.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
