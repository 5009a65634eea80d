package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records sync pass outcomes.
type Metrics struct {
	items    *prometheus.CounterVec
	passes   *prometheus.CounterVec
	duration prometheus.Histogram
	pending  prometheus.Gauge
}

// NewMetrics creates and registers the sync collectors. A nil registerer
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booktu",
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Pending inventories reconciled, by outcome.",
		}, []string{"outcome"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booktu",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Sync passes, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "booktu",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of completed sync passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "booktu",
			Subsystem: "sync",
			Name:      "eligible_inventories",
			Help:      "Eligible pending inventories at the start of the last pass.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.items, m.passes, m.duration, m.pending)
	}
	return m
}

func (m *Metrics) observeItem(outcome Outcome) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observePass(result string, eligible int, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
	if result == passCompleted {
		m.pending.Set(float64(eligible))
		m.duration.Observe(d.Seconds())
	}
}
