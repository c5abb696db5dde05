package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EvaluationsTotal counts completed evaluations by outcome status and route.
var EvaluationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "padcheck_evaluations_total",
		Help: "Total number of trade request evaluations by status and route",
	},
	[]string{"status", "route"},
)

// EvaluationLatency records end-to-end evaluation latency
var EvaluationLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "padcheck_evaluation_latency_seconds",
		Help:    "Latency in seconds of a single trade request evaluation",
		Buckets: prometheus.DefBuckets,
	},
)

// FailClosedTotal counts decisions escalated because the request could not be assessed
var FailClosedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "padcheck_fail_closed_total",
		Help: "Decisions escalated to compliance because assessment failed",
	},
	[]string{"stage"},
)

// Instrument resolution metrics
var (
	ResolutionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padcheck_resolution_outcomes_total",
			Help: "Instrument resolution outcomes by outcome and stopping tier",
		},
		[]string{"outcome", "tier"},
	)

	ExternalLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padcheck_external_lookups_total",
			Help: "External reference-data lookups by result",
		},
		[]string{"result"},
	)

	ExternalLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "padcheck_external_lookup_latency_seconds",
			Help:    "Latency in seconds of external reference-data lookups",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	FuzzyIndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "padcheck_fuzzy_index_entries",
			Help: "Number of instruments in the live fuzzy index",
		},
	)

	FuzzyIndexBuiltAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "padcheck_fuzzy_index_built_timestamp_seconds",
			Help: "Unix time the live fuzzy index was built",
		},
	)

	FuzzyRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padcheck_fuzzy_refresh_total",
			Help: "Fuzzy index refresh attempts by result",
		},
		[]string{"result"},
	)
)

// Enrichment and configuration metrics
var (
	EnrichmentDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padcheck_enrichment_degraded_total",
			Help: "Firm position enrichment branches that failed and were defaulted",
		},
		[]string{"branch"},
	)

	RulesFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "padcheck_rules_fallback_total",
			Help: "Times the hardcoded rule defaults were served because the store failed",
		},
	)

	RulesVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "padcheck_rules_version",
			Help: "Version of the rules snapshot currently cached",
		},
	)

	AuditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padcheck_audit_failures_total",
			Help: "Decision records an audit sink failed to accept",
		},
		[]string{"sink"},
	)
)

// Connection pool gauges, labelled by driver.
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "padcheck_db_open_connections",
			Help: "Open database connections",
		},
		[]string{"driver"},
	)
	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "padcheck_db_idle_connections",
			Help: "Idle database connections",
		},
		[]string{"driver"},
	)
	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "padcheck_db_in_use_connections",
			Help: "Database connections in use",
		},
		[]string{"driver"},
	)
)

func init() {
	prometheus.MustRegister(EvaluationsTotal, EvaluationLatency, FailClosedTotal)
	prometheus.MustRegister(ResolutionOutcomes, ExternalLookups, ExternalLatency, FuzzyIndexSize, FuzzyIndexBuiltAt, FuzzyRefreshTotal)
	prometheus.MustRegister(EnrichmentDegraded, RulesFallbackTotal, RulesVersion, AuditFailures)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
