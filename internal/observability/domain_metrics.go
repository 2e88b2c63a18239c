package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeNoSQL      = "no_sql"
	OutcomeInvalid    = "invalid"
	OutcomeGeneration = "generation_error"
	OutcomeQuery      = "query_error"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_questions_total",
			Help: "Total number of natural-language questions by outcome.",
		},
		[]string{"outcome"},
	)
	correctionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_corrections_total",
			Help: "Total number of correction rounds by whether the corrected statement validated.",
		},
		[]string{"accepted"},
	)
	rawQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_raw_queries_total",
			Help: "Total number of unvalidated SQL executions by outcome.",
		},
		[]string{"outcome"},
	)
	generationLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlq_generation_latency_seconds",
			Help:    "Latency of translating a question into SQL, correction included.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 320},
		},
	)
	queryLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlq_query_latency_seconds",
			Help:    "DuckDB execution latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
	resultRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlq_result_rows",
			Help:    "Number of rows returned per executed statement.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	datasetRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nlq_dataset_rows",
			Help: "Row count of the registered dataset.",
		},
	)
	modelAccelerated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nlq_model_accelerated",
			Help: "1 when the model runs in accelerated mode, 0 in baseline mode.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		correctionsTotal,
		rawQueriesTotal,
		generationLatencySeconds,
		queryLatencySeconds,
		resultRows,
		datasetRows,
		modelAccelerated,
	)
}

func ObserveQuestion(outcome string, generation time.Duration) {
	questionsTotal.WithLabelValues(outcome).Inc()
	if generation > 0 {
		generationLatencySeconds.Observe(generation.Seconds())
	}
}

func ObserveCorrection(accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	correctionsTotal.WithLabelValues(label).Inc()
}

func ObserveRawQuery(outcome string) {
	rawQueriesTotal.WithLabelValues(outcome).Inc()
}

func ObserveExecution(rows int, elapsed time.Duration) {
	queryLatencySeconds.Observe(elapsed.Seconds())
	resultRows.Observe(float64(rows))
}

func SetEngineInfo(rows int, accelerated bool) {
	datasetRows.Set(float64(rows))
	if accelerated {
		modelAccelerated.Set(1)
	} else {
		modelAccelerated.Set(0)
	}
}
