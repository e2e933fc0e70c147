package bagel

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects SDK metrics. All methods are safe on a nil receiver, so
// components record unconditionally.
type Metrics struct {
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	refreshes  *prometheus.CounterVec
	reconnects *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bagel",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests sent by the SDK, by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bagel",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Request latency as seen by the SDK.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bagel",
			Subsystem: "session",
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes, by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bagel",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Live stream reconnects, by reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.latency, m.refreshes, m.reconnects)
	}

	return m
}

// ObserveRefresh records the outcome of one refresh network call.
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "failure"
	}

	m.refreshes.WithLabelValues(result).Inc()
}

// ObserveReconnect records a stream reconnect.
func (m *Metrics) ObserveReconnect(reason string) {
	if m == nil {
		return
	}

	m.reconnects.WithLabelValues(reason).Inc()
}

// MetricsRequestInterceptor records request start time.
func MetricsRequestInterceptor(m *Metrics) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		if m == nil {
			return nil
		}

		if req.Metadata == nil {
			req.Metadata = make(map[string]interface{})
		}

		req.Metadata["start_time"] = time.Now()

		return nil
	}
}

// MetricsResponseInterceptor records response metrics.
func MetricsResponseInterceptor(m *Metrics) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response) error {
		if m == nil {
			return nil
		}

		code := "error"
		if resp.StatusCode > 0 {
			code = strconv.Itoa(resp.StatusCode)
		}

		m.requests.WithLabelValues(req.Method, code).Inc()

		if startTime, ok := req.Metadata["start_time"].(time.Time); ok {
			m.latency.WithLabelValues(req.Method).Observe(time.Since(startTime).Seconds())
		}

		return nil
	}
}
