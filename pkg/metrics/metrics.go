package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector exported by the assistant.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		RunTotal, RunIterations,
		ActionTotal, ActionDuration,
		CompletionDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RunTotal counts finished runs by status and failure reason.
var RunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_assistant_runs_total",
		Help: "Finished runs by status.",
	},
	[]string{"status", "reason"}, // done | failed; "" | completion | iteration_bound | cancelled | invalid_input
)

var RunIterations = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "crm_assistant_run_iterations",
		Help:    "Acting iterations per run.",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 13},
	},
)

var ActionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_assistant_actions_total",
		Help: "Dispatched actions by name and result.",
	},
	[]string{"action", "result"}, // success | failure
)

var ActionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "crm_assistant_action_duration_seconds",
		Help:    "Gateway call latency per action.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"action"},
)

var CompletionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "crm_assistant_completion_duration_seconds",
		Help:    "Completion service latency.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"result"},
)

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func Result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
