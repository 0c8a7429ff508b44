package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semquery_retention_runs_total",
			Help: "Total number of artifact retention sweeps by status.",
		},
		[]string{"status"},
	)
	versionsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semquery_model_versions_pruned_total",
			Help: "Total number of superseded model versions deleted by retention.",
		},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semquery_integrity_runs_total",
			Help: "Total number of storage integrity checks by status.",
		},
		[]string{"status"},
	)
	integrityMissingObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semquery_integrity_missing_objects_total",
			Help: "Total number of missing artifacts or empty tables detected.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		versionsPrunedTotal,
		integrityRunsTotal,
		integrityMissingObjectsTotal,
	)
}
