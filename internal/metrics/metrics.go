// Package metrics exposes room and negotiation counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "openrooms"

// Stats is read on every scrape.
type Stats interface {
	Len() int
	SessionCount() int
}

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	roomsReclaimed     prometheus.Counter
	negotiations       *prometheus.CounterVec
	candidatesRejected prometheus.Counter
}

func New(reg prometheus.Registerer, stats Stats) *Metrics {
	m := &Metrics{
		roomsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "reclaimed_total",
			Help:      "Rooms removed by the idle sweep.",
		}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "negotiations_total",
			Help:      "Offer negotiations by result.",
		}, []string{"result"}),
		candidatesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "candidates_rejected_total",
			Help:      "Remote ICE candidates skipped because the engine rejected them.",
		}),
	}

	reg.MustRegister(
		m.roomsReclaimed,
		m.negotiations,
		m.candidatesRejected,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "total",
			Help:      "Rooms currently held in the registry.",
		}, func() float64 { return float64(stats.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "total",
			Help:      "Sessions attached to rooms.",
		}, func() float64 { return float64(stats.SessionCount()) }),
	)
	return m
}

func (m *Metrics) RoomsReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.roomsReclaimed.Add(float64(n))
}

func (m *Metrics) Negotiation(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.negotiations.WithLabelValues(result).Inc()
}

func (m *Metrics) CandidateRejected() {
	if m == nil {
		return
	}
	m.candidatesRejected.Inc()
}
