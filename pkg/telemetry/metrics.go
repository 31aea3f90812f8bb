package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides the broker's Prometheus metrics. A disabled Metrics value
// is a no-op, so callers never need to branch on configuration.
type Metrics struct {
	config MetricsConfig

	// Order lifecycle metrics
	ordersActive     *prometheus.GaugeVec
	orderTransitions *prometheus.CounterVec
	orderFaults      *prometheus.CounterVec

	// Connector metrics
	connectorCalls    *prometheus.CounterVec
	connectorDuration *prometheus.HistogramVec

	// Federation RPC metrics
	federationRequests *prometheus.CounterVec
	federationDuration *prometheus.HistogramVec
	federationInbound  *prometheus.CounterVec

	// Processor metrics
	processorCycles *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		ordersActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "orders_active",
				Help:      "Number of orders currently in each lifecycle state",
			},
			[]string{"state"},
		),
		orderTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Total order state transitions by edge",
			},
			[]string{"from", "to"},
		),
		orderFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_faults_total",
				Help:      "Total orders failed, by error kind",
			},
			[]string{"kind"},
		),
		connectorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connector_calls_total",
				Help:      "Total cloud connector calls by connector, operation and outcome",
			},
			[]string{"connector", "operation", "outcome"},
		),
		connectorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connector_call_duration_seconds",
				Help:      "Cloud connector call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"connector", "operation"},
		),
		federationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "federation_requests_total",
				Help:      "Outbound federation RPCs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		federationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "federation_request_duration_seconds",
				Help:      "Outbound federation RPC latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		federationInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "federation_inbound_total",
				Help:      "Inbound federation RPCs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		processorCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "processor_cycles_total",
				Help:      "Completed processor scan cycles",
			},
			[]string{"processor"},
		),
	}

	collectors := []prometheus.Collector{
		m.ordersActive,
		m.orderTransitions,
		m.orderFaults,
		m.connectorCalls,
		m.connectorDuration,
		m.federationRequests,
		m.federationDuration,
		m.federationInbound,
		m.processorCycles,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// enabled reports whether metric collection is active.
func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// SetOrdersActive records the current number of orders in a state.
func (m *Metrics) SetOrdersActive(state string, count int) {
	if !m.enabled() {
		return
	}
	m.ordersActive.WithLabelValues(state).Set(float64(count))
}

// ObserveTransition counts one order state transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if !m.enabled() {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

// ObserveOrderFault counts one order failure by error kind.
func (m *Metrics) ObserveOrderFault(kind string) {
	if !m.enabled() {
		return
	}
	m.orderFaults.WithLabelValues(kind).Inc()
}

// ObserveConnectorCall records one connector call with its latency.
func (m *Metrics) ObserveConnectorCall(connector, operation, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.connectorCalls.WithLabelValues(connector, operation, outcome).Inc()
	m.connectorDuration.WithLabelValues(connector, operation).Observe(duration.Seconds())
}

// ObserveFederationRequest records one outbound federation RPC.
func (m *Metrics) ObserveFederationRequest(kind, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.federationRequests.WithLabelValues(kind, outcome).Inc()
	m.federationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveFederationInbound records one served federation RPC.
func (m *Metrics) ObserveFederationInbound(kind, outcome string) {
	if !m.enabled() {
		return
	}
	m.federationInbound.WithLabelValues(kind, outcome).Inc()
}

// ObserveProcessorCycle counts one completed processor sweep.
func (m *Metrics) ObserveProcessorCycle(processor string) {
	if !m.enabled() {
		return
	}
	m.processorCycles.WithLabelValues(processor).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. It blocks until the server fails,
// so callers run it in its own goroutine.
func (m *Metrics) Serve() error {
	if !m.enabled() {
		return nil
	}
	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
