// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Collector metrics
	ObservationsFetched prometheus.Counter
	ObservationsStored  prometheus.Counter
	DuplicatesSkipped   prometheus.Counter
	CollectorErrors     *prometheus.CounterVec
	LastPrice           prometheus.Gauge
	LastObservationTime prometheus.Gauge

	// Enrichment metrics
	RowsEnriched      prometheus.Counter
	BatchesEnriched   prometheus.Counter
	EnrichmentErrors  prometheus.Counter
	SnapshotsSaved    prometheus.Counter
	EnrichmentLatency prometheus.Histogram

	// Prediction metrics
	PredictionsMade      *prometheus.CounterVec
	PredictionsEvaluated *prometheus.CounterVec
	PredictionAbsError   prometheus.Histogram

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Backfill metrics
	BackfillRunsTotal *prometheus.CounterVec
	BackfillDuration  *prometheus.HistogramVec
	RowsVerified      prometheus.Counter
	GateChecksTotal   *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	DBConnections   *prometheus.GaugeVec

	// Health metrics
	LastSuccessfulCollection prometheus.Gauge
	LastSuccessfulEnrichment prometheus.Gauge
	UptimeSeconds            prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "btc_feature_lab"
	}

	return &Metrics{
		// Collector metrics
		ObservationsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "observations_fetched_total",
			Help:      "Total number of price observations fetched from the exchange",
		}),
		ObservationsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "observations_stored_total",
			Help:      "Total number of price observations stored to database",
		}),
		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of same-timestamp observations skipped",
		}),
		CollectorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "errors_total",
			Help:      "Total number of collector errors by stage",
		}, []string{"stage"}),
		LastPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "last_price",
			Help:      "Most recently observed price",
		}),
		LastObservationTime: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "last_observation_timestamp_ms",
			Help:      "Timestamp of the most recent observation in epoch milliseconds",
		}),

		// Enrichment metrics
		RowsEnriched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "rows_enriched_total",
			Help:      "Total number of feature rows computed",
		}),
		BatchesEnriched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "batches_enriched_total",
			Help:      "Total number of enrichment batches processed",
		}),
		EnrichmentErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "errors_total",
			Help:      "Total number of enrichment errors",
		}),
		SnapshotsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "snapshots_saved_total",
			Help:      "Total number of enrichment state snapshots saved",
		}),
		EnrichmentLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "batch_latency_seconds",
			Help:      "Enrichment batch processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Prediction metrics
		PredictionsMade: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "made_total",
			Help:      "Total number of predictions made by model",
		}, []string{"model"}),
		PredictionsEvaluated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "evaluated_total",
			Help:      "Total number of predictions evaluated by model and outcome",
		}, []string{"model", "outcome"}),
		PredictionAbsError: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "abs_error",
			Help:      "Absolute prediction error in price units",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),

		// API metrics
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by path and status",
		}, []string{"path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),

		// Backfill metrics
		BackfillRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "runs_total",
			Help:      "Total number of backfill runs by phase and status",
		}, []string{"phase", "status"}),
		BackfillDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Backfill phase duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"phase"}),
		RowsVerified: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "rows_verified_total",
			Help:      "Total number of feature rows verified against recomputation",
		}),
		GateChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "gate_checks_total",
			Help:      "Total number of quality gate evaluations by verdict",
		}, []string{"verdict"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
		DBConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "connections",
			Help:      "Number of database connections by state",
		}, []string{"database", "state"}),

		// Health metrics
		LastSuccessfulCollection: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_collection_timestamp",
			Help:      "Unix timestamp of last successful price collection",
		}),
		LastSuccessfulEnrichment: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_enrichment_timestamp",
			Help:      "Unix timestamp of last successful enrichment run",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordObservationFetched increments the observations fetched counter.
func RecordObservationFetched() {
	DefaultMetrics.ObservationsFetched.Inc()
}

// RecordObservationStored updates counters and gauges for a stored observation.
func RecordObservationStored(price float64, timestampMs int64) {
	DefaultMetrics.ObservationsStored.Inc()
	DefaultMetrics.LastPrice.Set(price)
	DefaultMetrics.LastObservationTime.Set(float64(timestampMs))
	DefaultMetrics.LastSuccessfulCollection.SetToCurrentTime()
}

// RecordDuplicateSkipped increments the duplicates skipped counter.
func RecordDuplicateSkipped() {
	DefaultMetrics.DuplicatesSkipped.Inc()
}

// RecordCollectorError records a collector error by stage (fetch or store).
func RecordCollectorError(stage string) {
	DefaultMetrics.CollectorErrors.WithLabelValues(stage).Inc()
}

// RecordRowsEnriched records a completed enrichment batch.
func RecordRowsEnriched(rows int, seconds float64) {
	DefaultMetrics.RowsEnriched.Add(float64(rows))
	DefaultMetrics.BatchesEnriched.Inc()
	DefaultMetrics.EnrichmentLatency.Observe(seconds)
	DefaultMetrics.LastSuccessfulEnrichment.SetToCurrentTime()
}

// RecordEnrichmentError increments the enrichment errors counter.
func RecordEnrichmentError() {
	DefaultMetrics.EnrichmentErrors.Inc()
}

// RecordSnapshotSaved increments the snapshots saved counter.
func RecordSnapshotSaved() {
	DefaultMetrics.SnapshotsSaved.Inc()
}

// RecordPredictionMade increments the predictions made counter for a model.
func RecordPredictionMade(model string) {
	DefaultMetrics.PredictionsMade.WithLabelValues(model).Inc()
}

// RecordPredictionEvaluated records an evaluated prediction outcome.
func RecordPredictionEvaluated(model string, correct bool, absError float64) {
	outcome := "incorrect"
	if correct {
		outcome = "correct"
	}
	DefaultMetrics.PredictionsEvaluated.WithLabelValues(model, outcome).Inc()
	DefaultMetrics.PredictionAbsError.Observe(absError)
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(path, status string, seconds float64) {
	DefaultMetrics.HTTPRequestsTotal.WithLabelValues(path, status).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(path).Observe(seconds)
}

// RecordBackfillPhase records a backfill phase run.
func RecordBackfillPhase(phase, status string, durationSeconds float64) {
	DefaultMetrics.BackfillRunsTotal.WithLabelValues(phase, status).Inc()
	DefaultMetrics.BackfillDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordRowsVerified adds to the verified rows counter.
func RecordRowsVerified(rows int) {
	DefaultMetrics.RowsVerified.Add(float64(rows))
}

// RecordGateCheck records a quality gate verdict (go or no_go).
func RecordGateCheck(verdict string) {
	DefaultMetrics.GateChecksTotal.WithLabelValues(verdict).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
