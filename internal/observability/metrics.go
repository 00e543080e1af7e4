package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the decision pipeline's counters for scraping. The
// statistics operation remains the source of truth; these exist so the
// service can be watched without polling it.
type Metrics struct {
	DecisionsTotal   *prometheus.CounterVec
	ExperiencesTotal *prometheus.CounterVec
	ModelUpdates     prometheus.Counter
	ExplorationRate  prometheus.Gauge
	ScoringDuration  prometheus.Histogram
}

// NewMetrics registers the pipeline metrics with the given registerer.
// Passing nil uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagepilot",
				Name:      "decisions_total",
				Help:      "Decisions emitted by the action selector, by outcome.",
			},
			[]string{"kind"},
		),
		ExperiencesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagepilot",
				Name:      "experiences_total",
				Help:      "Experiences appended to the ledger, by reward sign.",
			},
			[]string{"outcome"},
		),
		ModelUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pagepilot",
				Name:      "model_updates_total",
				Help:      "Batched preference model updates applied.",
			},
		),
		ExplorationRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pagepilot",
				Name:      "exploration_rate",
				Help:      "Current epsilon of the epsilon-greedy policy.",
			},
		),
		ScoringDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pagepilot",
				Name:      "scoring_duration_seconds",
				Help:      "Wall time of one scoring engine invocation.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}
