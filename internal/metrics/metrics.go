package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hullcloseio_envelopes_total",
			Help: "Envelopes classified per kind and op",
		},
		[]string{"kind", "op"}, // account|user , skip|insert|update
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hullcloseio_dispatch_total",
			Help: "CRM writes per kind, op and result",
		},
		[]string{"kind", "op", "result"}, // success|error
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hullcloseio_batch_duration_seconds",
			Help:    "Wall time of one sync batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hullcloseio_crm_breaker_state",
			Help: "CRM circuit breaker state per credential (0 closed, 1 half-open, 2 open)",
		},
		[]string{"credential"}, // masked api key
	)

	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hullcloseio_crm_breaker_transitions_total",
			Help: "CRM circuit breaker transitions per credential and target state",
		},
		[]string{"credential", "state"},
	)

	once sync.Once
)

// MustRegister registers the collectors once; serve and worker may both call it.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			EnvelopesTotal,
			DispatchTotal,
			BatchDuration,
			BreakerState,
			BreakerTransitions,
		)
	})
}
