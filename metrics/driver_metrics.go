package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gremlin_driver"

const (
	OutcomeSuccess         = "success"
	OutcomeServerError     = "server_error"
	OutcomeConnectionError = "connection_error"
	OutcomeProtocolError   = "protocol_error"
	OutcomeTimeout         = "timeout"
	OutcomeClosed          = "closed"
)

// DriverMetrics are the collectors updated by the driver. All methods are safe to call on a nil *DriverMetrics, in
// which case they do nothing.
type DriverMetrics struct {
	openConnections    Gauge
	connectionsCreated Counter
	connectionsEvicted Counter
	requests           *CounterVec
	pendingRequests    Gauge
	requestLatency     Histogram
}

// NewDriverMetrics creates the collectors and registers them with registerer.
func NewDriverMetrics(registerer prometheus.Registerer) (*DriverMetrics, error) {
	m := &DriverMetrics{
		openConnections: prometheus.NewGauge(GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Number of open pooled connections",
		}),
		connectionsCreated: prometheus.NewCounter(CounterOpts{
			Namespace: namespace,
			Name:      "connections_created_total",
			Help:      "Number of connections opened by the pool",
		}),
		connectionsEvicted: prometheus.NewCounter(CounterOpts{
			Namespace: namespace,
			Name:      "connections_evicted_total",
			Help:      "Number of failed connections removed from the pool",
		}),
		requests: prometheus.NewCounterVec(CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of completed requests by outcome",
		}, []string{"outcome"}),
		pendingRequests: prometheus.NewGauge(GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Number of requests written and awaiting a terminal response",
		}),
		requestLatency: prometheus.NewHistogram(HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from writing a request to its terminal response",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}
	collectors := []prometheus.Collector{m.openConnections, m.connectionsCreated, m.connectionsEvicted, m.requests,
		m.pendingRequests, m.requestLatency}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *DriverMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.openConnections.Inc()
	m.connectionsCreated.Inc()
}

// ConnectionClosed is called once for every connection previously passed to ConnectionOpened.
func (m *DriverMetrics) ConnectionClosed(evicted bool) {
	if m == nil {
		return
	}
	m.openConnections.Dec()
	if evicted {
		m.connectionsEvicted.Inc()
	}
}

func (m *DriverMetrics) RequestStarted() {
	if m == nil {
		return
	}
	m.pendingRequests.Inc()
}

func (m *DriverMetrics) RequestCompleted(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.pendingRequests.Dec()
	m.requests.WithLabelValues(outcome).Inc()
	m.requestLatency.Observe(latency.Seconds())
}
