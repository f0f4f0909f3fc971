// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "blueprint"

var (
	// CommitsProcessed counts commit syncs by trigger and result.
	CommitsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "commits_total",
		Help:      "Count of commits processed, by trigger (hook, import) and result (ok, error).",
	}, []string{"trigger", "result"})

	// CommitDuration observes the time to process and store one commit.
	CommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "commit_duration_seconds",
		Help:      "Time spent checking out, parsing and storing one commit, by trigger.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"trigger"})

	// HookDeliveries counts webhook deliveries by response status.
	HookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hook",
		Name:      "deliveries_total",
		Help:      "Count of push webhook deliveries, by HTTP response code.",
	}, []string{"code"})

	// WorkersBusy is the number of occupied worker slots.
	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hook",
		Name:      "workers_busy",
		Help:      "Number of worker slots currently processing a webhook job.",
	})
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
