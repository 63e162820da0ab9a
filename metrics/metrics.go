// Package metrics exposes Prometheus collectors for the poll loop and the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	cycles         *prometheus.CounterVec
	announcements  prometheus.Counter
	fetchFailures  prometheus.Counter
	deliveries     *prometheus.CounterVec
	commands       *prometheus.CounterVec
	lastAnnounceTS prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specials_poll_cycles_total",
			Help: "Poll cycles by result (unchanged, announced, error).",
		}, []string{"result"}),
		announcements: f.NewCounter(prometheus.CounterOpts{
			Name: "specials_announcements_total",
			Help: "Detected changes of the published day's list.",
		}),
		fetchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "specials_fetch_failures_total",
			Help: "Fetch cycles that ended without a document.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specials_deliveries_total",
			Help: "Outbound chat messages by result (ok, error).",
		}, []string{"result"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specials_commands_total",
			Help: "Inbound subscriber commands by kind.",
		}, []string{"command"}),
		lastAnnounceTS: f.NewGauge(prometheus.GaugeOpts{
			Name: "specials_last_announcement_timestamp_seconds",
			Help: "Unix time of the last detected change.",
		}),
	}
}

// Cycle counts one poll cycle with the given result.
func (m *Metrics) Cycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

// Announced counts a detected change at unix time ts.
func (m *Metrics) Announced(ts float64) {
	if m == nil {
		return
	}
	m.announcements.Inc()
	m.lastAnnounceTS.Set(ts)
}

// FetchFailed counts a fetch that gave up.
func (m *Metrics) FetchFailed() {
	if m == nil {
		return
	}
	m.fetchFailures.Inc()
}

// Delivery counts one outbound message.
func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// Command counts one inbound command.
func (m *Metrics) Command(kind string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind).Inc()
}
