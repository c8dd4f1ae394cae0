package numbering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds allocation metrics. A nil *Metrics records nothing.
type Metrics struct {
	allocations *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	duration    prometheus.Histogram
}

// Allocation results.
const (
	ResultIssued        = "issued"
	ResultExhausted     = "exhausted"
	ResultOverflow      = "overflow"
	ResultConfiguration = "configuration"
)

// Attempt outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeDuplicate = "duplicate"
	OutcomeConflict  = "conflict"
	OutcomeTransient = "transient"
	OutcomeOverflow  = "overflow"
	OutcomeCancelled = "cancelled"
)

// NewMetrics registers allocation metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		allocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "numbering_allocations_total",
				Help: "Allocation calls by result",
			},
			[]string{"result"},
		),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "numbering_attempts_total",
				Help: "Allocation attempts by outcome",
			},
			[]string{"outcome"},
		),
		duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "numbering_allocation_duration_seconds",
				Help:    "Allocation latency in seconds, retries included",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
	}
}

func (m *Metrics) allocation(result string, seconds float64) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) attempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}
