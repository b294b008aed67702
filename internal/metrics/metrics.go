package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rule mining
	RefreshRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recs_rule_refresh_runs_total",
			Help: "Rule refresh runs by outcome (published, no_qualifying_rules, error)",
		},
		[]string{"outcome"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recs_rule_refresh_duration_seconds",
			Help:    "Duration of rule refresh runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SkippedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recs_ledger_skipped_records_total",
			Help: "Malformed ledger records skipped during itemset counting",
		},
	)

	PublishedEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recs_published_edges",
			Help: "Number of edges in the active recommendation snapshot",
		},
	)

	PublishedVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recs_published_version",
			Help: "Version of the active recommendation snapshot",
		},
	)

	// Online path
	SuggestionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recs_suggestion_requests_total",
			Help: "Suggestion requests by terminal state (merged, degraded) and whether they were coalesced",
		},
		[]string{"state", "shared"},
	)

	AIResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recs_ai_results_total",
			Help: "AI suggester outcomes (ok, empty, or the failure kind)",
		},
		[]string{"outcome"},
	)

	SubcallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recs_subcall_duration_seconds",
			Help:    "Latency of suggestion sub-calls in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"subcall"},
	)

	FallbackNotices = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recs_fallback_notices_total",
			Help: "Fallback notices handed to clients",
		},
	)
)
