// Package metrics provides the Prometheus collectors of the metadata engine.
//
// Collectors are optional: every method is safe to call on a nil receiver,
// so components accept a nil *StoreMetrics to disable collection with zero
// overhead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittometa/pkg/metadata/errors"
)

// Label values.
const (
	ResultOK = "ok"

	SweepSync  = "sync"
	SweepAsync = "async"

	DirectionDeinline = "deinline"
	DirectionReinline = "reinline"

	DisposalAnchored = "anchored"
	DisposalRemoved  = "removed"
	DisposalRetried  = "retried"
)

// StoreMetrics collects metrics of the inode stores and the coordinator.
type StoreMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cachedInodes *prometheus.GaugeVec
	sweeps       *prometheus.CounterVec
	inlining     *prometheus.CounterVec
	disposal     *prometheus.CounterVec
}

// NewStoreMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittometa",
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of coordinator operations by operation and result",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dittometa",
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of coordinator operations",
				Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"op"},
		),
		cachedInodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dittometa",
				Subsystem: "store",
				Name:      "cached_inodes",
				Help:      "Number of inode objects held in memory by store",
			},
			[]string{"store"}, // "files", "dirs", "dir_cache"
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittometa",
				Subsystem: "store",
				Name:      "dir_cache_sweeps_total",
				Help:      "Total number of directory cache sweeps by mode",
			},
			[]string{"mode"},
		),
		inlining: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittometa",
				Subsystem: "store",
				Name:      "deinline_total",
				Help:      "Total number of inode placement changes by direction",
			},
			[]string{"direction"},
		),
		disposal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittometa",
				Subsystem: "store",
				Name:      "disposal_total",
				Help:      "Total number of disposal directory events",
			},
			[]string{"event"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.cachedInodes, m.sweeps, m.inlining, m.disposal)
	}
	return m
}

// ObserveOperation records a finished operation. The result label is the
// error code name, or "ok".
func (m *StoreMetrics) ObserveOperation(op string, err error, d time.Duration) {
	if m == nil {
		return
	}

	result := ResultOK
	if err != nil {
		code := errors.CodeOf(err)
		if code == 0 {
			code = errors.ErrInternal
		}
		result = code.String()
	}

	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// SetCachedInodes sets the number of objects held by a store.
func (m *StoreMetrics) SetCachedInodes(store string, n int) {
	if m == nil {
		return
	}
	m.cachedInodes.WithLabelValues(store).Set(float64(n))
}

// ObserveSweep records a directory cache sweep.
func (m *StoreMetrics) ObserveSweep(mode string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(mode).Inc()
}

// ObserveInlineChange records a de-inline or re-inline.
func (m *StoreMetrics) ObserveInlineChange(direction string) {
	if m == nil {
		return
	}
	m.inlining.WithLabelValues(direction).Inc()
}

// ObserveDisposal records a disposal directory event.
func (m *StoreMetrics) ObserveDisposal(event string) {
	if m == nil {
		return
	}
	m.disposal.WithLabelValues(event).Inc()
}
