// Package metrics holds the Prometheus collectors for ingestion and search.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "channel_search"

// Metrics groups the collectors
type Metrics struct {
	Messages        *prometheus.CounterVec
	IngestRuns      *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	SchedulerPasses *prometheus.CounterVec
	SearchQueries   prometheus.Counter
	SearchResults   prometheus.Histogram
	SearchDuration  prometheus.Histogram
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages seen by ingestion, by outcome (created, updated, skipped).",
		}, []string{"outcome"}),
		IngestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Channel ingestion runs, by result (success, failure).",
		}, []string{"result"}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of one channel ingestion.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		SchedulerPasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_passes_total",
			Help:      "Periodic update passes, by result (success, error).",
		}, []string{"result"}),
		SearchQueries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_queries_total",
			Help:      "Search queries that reached the store.",
		}),
		SearchResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per query.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Time spent scanning and ranking one query.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveIngestion records one channel run
func (m *Metrics) ObserveIngestion(success bool, created, updated, skipped int, d time.Duration) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues("created").Add(float64(created))
	m.Messages.WithLabelValues("updated").Add(float64(updated))
	m.Messages.WithLabelValues("skipped").Add(float64(skipped))
	m.IngestRuns.WithLabelValues(resultLabel(success, "failure")).Inc()
	m.IngestDuration.Observe(d.Seconds())
}

// ObservePass records one periodic scheduler pass
func (m *Metrics) ObservePass(err error) {
	if m == nil {
		return
	}
	m.SchedulerPasses.WithLabelValues(resultLabel(err == nil, "error")).Inc()
}

// ObserveSearch records one query that reached the store
func (m *Metrics) ObserveSearch(results int, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueries.Inc()
	m.SearchResults.Observe(float64(results))
	m.SearchDuration.Observe(d.Seconds())
}

func resultLabel(ok bool, failed string) string {
	if ok {
		return "success"
	}
	return failed
}
