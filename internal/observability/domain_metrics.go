package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semquery_ask_requests_total",
			Help: "Total number of ask requests.",
		},
	)
	askLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semquery_ask_latency_ms",
			Help:    "End-to-end ask latency in milliseconds.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	groundingAmbiguousTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semquery_grounding_ambiguous_total",
			Help: "Total number of questions rejected as ambiguous.",
		},
	)
	groundingNoMatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semquery_grounding_no_match_total",
			Help: "Total number of questions with no grounded entity.",
		},
	)
	planRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semquery_plan_repairs_total",
			Help: "Total number of repair retranslations after a validation failure.",
		},
	)
	llmRequestLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semquery_llm_request_latency_ms",
			Help:    "LLM completion latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	executionRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semquery_execution_retries_total",
			Help: "Total number of execution attempts beyond the first.",
		},
	)
	executionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semquery_execution_failures_total",
			Help: "Total number of executions that failed after the retry budget.",
		},
	)
	activeModelVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "semquery_active_model_version",
			Help: "Version number of the active semantic model.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		askRequestsTotal,
		askLatencyMs,
		groundingAmbiguousTotal,
		groundingNoMatchTotal,
		planRepairsTotal,
		llmRequestLatencyMs,
		executionRetriesTotal,
		executionFailuresTotal,
		activeModelVersion,
	)
}

func ObserveAsk(elapsed time.Duration) {
	askRequestsTotal.Inc()
	askLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementAmbiguousQuestion() {
	groundingAmbiguousTotal.Inc()
}

func IncrementNoMatchQuestion() {
	groundingNoMatchTotal.Inc()
}

func IncrementPlanRepair() {
	planRepairsTotal.Inc()
}

func ObserveLLMRequest(elapsed time.Duration) {
	llmRequestLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveExecution(attempts int, failed bool) {
	if attempts > 1 {
		executionRetriesTotal.Add(float64(attempts - 1))
	}
	if failed {
		executionFailuresTotal.Inc()
	}
}

func SetActiveModelVersion(version int) {
	activeModelVersion.Set(float64(version))
}
