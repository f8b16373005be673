package lock

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	m.ObserveRequest(FamilyEntry, KindShared, granted)
	m.SetWaiters(FamilyEntry, 0)
	m.ObserveGrantedFromQueue(FamilyEntry, 1)
	m.ObserveCancel(ReasonHandle)

	mfs, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	want := map[string]bool{
		"dittometa_locks_requests_total":           false,
		"dittometa_locks_waiters":                  false,
		"dittometa_locks_granted_from_queue_total": false,
		"dittometa_locks_cancelled_total":          false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("Metric %s not found", name)
		}
	}
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registered {
		t.Error("Metrics without registry must not be marked registered")
	}

	// Must not panic.
	m.ObserveRequest(FamilyRange, KindExclusive, conflict)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	m.ObserveRequest(FamilyEntry, KindShared, granted)
	m.SetWaiters(FamilyEntry, 3)
	m.ObserveGrantedFromQueue(FamilyEntry, 1)
	m.ObserveCancel(ReasonClient)
}

func TestMetrics_StateObservesResults(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	s := NewState(Options{Metrics: m})

	s.Range(rangeReq(1, 1, KindExclusive, 0, 99, false))
	s.Range(rangeReq(2, 2, KindShared, 0, 9, true))
	s.Range(rangeReq(3, 3, KindShared, 0, 9, false))

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("range", "exclusive", ResultGranted)); got != 1 {
		t.Errorf("Expected 1 granted exclusive request, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("range", "shared", ResultWaiting)); got != 1 {
		t.Errorf("Expected 1 waiting shared request, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("range", "shared", ResultConflict)); got != 1 {
		t.Errorf("Expected 1 conflicting shared request, got %v", got)
	}
	if got := testutil.ToFloat64(m.waitersGauge.WithLabelValues("range")); got != 1 {
		t.Errorf("Expected 1 waiter, got %v", got)
	}

	s.Range(rangeReq(1, 1, KindUnlock, 0, 99, false))

	if got := testutil.ToFloat64(m.grantedFromQueue.WithLabelValues("range")); got != 1 {
		t.Errorf("Expected 1 grant from queue, got %v", got)
	}
	if got := testutil.ToFloat64(m.waitersGauge.WithLabelValues("range")); got != 0 {
		t.Errorf("Expected empty queue, got %v", got)
	}

	s.CancelByClient(2)
	if got := testutil.ToFloat64(m.cancellationsTotal.WithLabelValues(ReasonClient)); got != 1 {
		t.Errorf("Expected 1 client cancellation, got %v", got)
	}
}
