// Package monitoring exposes pipeline and corpus metrics to Prometheus.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Metrics holds the pipeline metrics. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation in tests.
type Metrics struct {
	// Registry owns the metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	pages         prometheus.Counter
	stages        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	events        *prometheus.CounterVec
	corpus        *prometheus.GaugeVec
}

// NewMetrics registers every metric in a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospect_fetches_total",
				Help: "HTTP fetches by outcome kind.",
			},
			[]string{"kind"},
		),
		pages: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prospect_pages_crawled_total",
				Help: "Pages fetched by the crawler.",
			},
		),
		stages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospect_stage_outcomes_total",
				Help: "Per-company stage outcomes.",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prospect_stage_duration_seconds",
				Help:    "Duration of per-company stages.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospect_progress_events_total",
				Help: "Progress events emitted by phase.",
			},
			[]string{"phase"},
		),
		corpus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prospect_corpus",
				Help: "Corpus totals from the store.",
			},
			[]string{"measure"},
		),
	}
}

// ObserveFetch counts one fetch with its outcome kind ("ok" on success).
func (m *Metrics) ObserveFetch(kind string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(kind).Inc()
}

// IncPages counts one crawled page.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.pages.Inc()
}

// ObserveStage records the outcome and duration of one company stage.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveEvent counts one progress event.
func (m *Metrics) ObserveEvent(kind model.EventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind.Phase()).Inc()
}

// SetCorpus publishes store statistics as gauges.
func (m *Metrics) SetCorpus(s *model.Statistics) {
	if m == nil || s == nil {
		return
	}
	m.corpus.WithLabelValues("companies").Set(float64(s.Total))
	m.corpus.WithLabelValues("favorites").Set(float64(s.Favorites))
	m.corpus.WithLabelValues("with_email").Set(float64(s.WithEmail))
	m.corpus.WithLabelValues("with_website").Set(float64(s.WithWebsite))
	m.corpus.WithLabelValues("scraped").Set(float64(s.ScrapedCompanies))
	m.corpus.WithLabelValues("analyzed").Set(float64(s.AnalyzedCompanies))
	if s.AvgSecurityScore != nil {
		m.corpus.WithLabelValues("avg_security_score").Set(*s.AvgSecurityScore)
	}
	if s.AvgPentestScore != nil {
		m.corpus.WithLabelValues("avg_pentest_score").Set(*s.AvgPentestScore)
	}
}
