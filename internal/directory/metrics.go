package directory

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the directory collectors. The zero value is not usable;
// build one with NewMetrics.
type Metrics struct {
	FetchTotal            *prometheus.CounterVec
	FetchDuration         *prometheus.HistogramVec
	Rotations             prometheus.Counter
	PresenceTransitions   prometheus.Counter
	PresenceSubscriptions prometheus.Gauge
	Sessions              prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "directory",
			Name:      "fetch_total",
			Help:      "Provider pool fetch attempts by path and outcome.",
		}, []string{"path", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "directory",
			Name:      "fetch_duration_seconds",
			Help:      "Provider pool fetch latency by path.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"path"}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "directory",
			Name:      "rotations_total",
			Help:      "Visible window rotations.",
		}),
		PresenceTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "directory",
			Name:      "presence_transitions_total",
			Help:      "Presence changes applied to a visible window.",
		}),
		PresenceSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "directory",
			Name:      "presence_subscriptions",
			Help:      "Open presence subscriptions.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "directory",
			Name:      "sessions",
			Help:      "Active directory sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FetchTotal, m.FetchDuration, m.Rotations,
			m.PresenceTransitions, m.PresenceSubscriptions, m.Sessions)
	}
	return m
}
