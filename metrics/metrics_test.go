package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Cycle("unchanged")
	m.Cycle("unchanged")
	m.Cycle("announced")
	m.Announced(1700000000)
	m.Delivery(true)
	m.Delivery(false)
	m.Command("subscribe")
	m.FetchFailed()

	if got := testutil.ToFloat64(m.cycles.WithLabelValues("unchanged")); got != 2 {
		t.Errorf("unchanged cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.announcements); got != 1 {
		t.Errorf("announcements = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lastAnnounceTS); got != 1700000000 {
		t.Errorf("last announcement = %v, want 1700000000", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("error")); got != 1 {
		t.Errorf("failed deliveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("subscribe")); got != 1 {
		t.Errorf("subscribe commands = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.fetchFailures); got != 1 {
		t.Errorf("fetch failures = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Cycle("error")
	m.Announced(1)
	m.Delivery(true)
	m.Command("other")
	m.FetchFailed()
}
