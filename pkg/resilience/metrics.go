package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeJc02/ShopMate/pkg/circuit"
)

// Metrics are the gateway's Prometheus collectors. A nil registerer builds
// unregistered collectors.
type Metrics struct {
	requests     *prometheus.CounterVec
	cache        *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	assignments  *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	duration     *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopmate",
			Name:      "requests_total",
			Help:      "Requests by route and outcome.",
		}, []string{"route", "outcome"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopmate",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"route", "result"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopmate",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"route", "from", "to"}),
		assignments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopmate",
			Name:      "experiment_assignments_total",
			Help:      "Requests served per experiment variant.",
		}, []string{"experiment", "variant"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shopmate",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per route (0 closed, 1 open, 2 half-open).",
		}, []string{"route"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shopmate",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving a request by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "operation"}),
	}
}

func (m *Metrics) observeTransition(route string, from, to circuit.State) {
	m.transitions.WithLabelValues(route, from.String(), to.String()).Inc()
	m.breakerState.WithLabelValues(route).Set(float64(to))
}
