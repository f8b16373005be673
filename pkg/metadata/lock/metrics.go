package lock

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Prometheus Metrics for Locks
// ============================================================================

// Label constants for metrics.
const (
	LabelFamily = "family"
	LabelKind   = "kind"
	LabelResult = "result"
	LabelReason = "reason"
)

// Result label values.
const (
	ResultGranted  = "granted"
	ResultWaiting  = "waiting"
	ResultConflict = "conflict"
)

// Reason constants for cancellations.
const (
	ReasonHandle = "handle"
	ReasonClient = "client"
)

// Metrics provides Prometheus metrics for lock tracking.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	waitersGauge       *prometheus.GaugeVec
	grantedFromQueue   *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec

	registered bool
}

// NewMetrics creates and registers lock metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittometa",
				Subsystem: "locks",
				Name:      "requests_total",
				Help:      "Total number of lock requests by family, kind and result",
			},
			[]string{LabelFamily, LabelKind, LabelResult},
		),

		waitersGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dittometa",
				Subsystem: "locks",
				Name:      "waiters",
				Help:      "Number of queued lock requests on the most recently updated inode",
			},
			[]string{LabelFamily},
		),

		grantedFromQueue: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittometa",
				Subsystem: "locks",
				Name:      "granted_from_queue_total",
				Help:      "Total number of queued lock requests that were granted later",
			},
			[]string{LabelFamily},
		),

		cancellationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittometa",
				Subsystem: "locks",
				Name:      "cancelled_total",
				Help:      "Total number of lock cancellations",
			},
			[]string{LabelReason},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.requestsTotal,
			m.waitersGauge,
			m.grantedFromQueue,
			m.cancellationsTotal,
		)
		m.registered = true
	}

	return m
}

// ObserveRequest records the outcome of a lock request.
func (m *Metrics) ObserveRequest(family Family, kind Kind, res Result) {
	if m == nil {
		return
	}

	result := ResultGranted
	switch {
	case res.Waiting:
		result = ResultWaiting
	case res.Conflict:
		result = ResultConflict
	}

	m.requestsTotal.WithLabelValues(family.String(), kind.String(), result).Inc()
}

// SetWaiters sets the queue length gauge of a lock family.
func (m *Metrics) SetWaiters(family Family, count int) {
	if m == nil {
		return
	}
	m.waitersGauge.WithLabelValues(family.String()).Set(float64(count))
}

// ObserveGrantedFromQueue records queued requests granted by an unlock or cancel.
func (m *Metrics) ObserveGrantedFromQueue(family Family, n int) {
	if m == nil {
		return
	}
	m.grantedFromQueue.WithLabelValues(family.String()).Add(float64(n))
}

// ObserveCancel records a cancel-by-handle or cancel-by-client call.
func (m *Metrics) ObserveCancel(reason string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(reason).Inc()
}

// ============================================================================
// Collector Interface (optional)
// ============================================================================

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}

	m.requestsTotal.Describe(ch)
	m.waitersGauge.Describe(ch)
	m.grantedFromQueue.Describe(ch)
	m.cancellationsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}

	m.requestsTotal.Collect(ch)
	m.waitersGauge.Collect(ch)
	m.grantedFromQueue.Collect(ch)
	m.cancellationsTotal.Collect(ch)
}
