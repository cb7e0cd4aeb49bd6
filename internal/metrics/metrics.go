// Package metrics exports pipeline and graph counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "integrity"

var (
	// stepComposite tracks the distribution of composite dissonance scores.
	stepComposite = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "detector",
		Name:      "composite_score",
		Help:      "Composite dissonance score per generation step",
		Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// degradedSteps counts steps scored without a complete graph lookup.
	degradedSteps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "detector",
		Name:      "degraded_total",
		Help:      "Steps whose graph lookups exceeded their budget",
	})

	// actions counts controller decisions.
	// Labels: action (continue, qualify, substitute, halt)
	actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "actions_total",
		Help:      "Controller actions by kind",
	}, []string{"action"})

	// sessionOutcomes counts finished sessions.
	// Labels: outcome (COMPLETED, ABORTED, INCOMPLETE)
	sessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "outcomes_total",
		Help:      "Finished sessions by outcome",
	}, []string{"outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "duration_seconds",
		Help:      "Wall time from session open to outcome",
		Buckets:   prometheus.DefBuckets,
	})

	tokensSaved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "tokens_saved_total",
		Help:      "Tokens not generated because a session was halted early",
	})

	// consolidations counts consolidation attempts.
	// Labels: result (applied, replayed, skipped, error)
	consolidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consolidation",
		Name:      "sessions_total",
		Help:      "Sessions handed to consolidation by result",
	}, []string{"result"})

	// httpRequests counts API requests.
	// Labels: method, route (chi pattern), status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	graphVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "version",
		Help:      "Currently published graph snapshot version",
	})

	// graphRecords tracks graph size.
	// Labels: layer, kind (node, edge)
	graphRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "records",
		Help:      "Nodes and edges per layer in the current snapshot",
	}, []string{"layer", "kind"})
)

func ObserveSample(s domain.DissonanceSample) {
	stepComposite.Observe(s.Composite)
	if s.Degraded {
		degradedSteps.Inc()
	}
}

func ObserveAction(kind domain.ActionKind) {
	actions.WithLabelValues(string(kind)).Inc()
}

func ObserveOutcome(o domain.Outcome, elapsed time.Duration, saved int) {
	sessionOutcomes.WithLabelValues(string(o)).Inc()
	sessionDuration.Observe(elapsed.Seconds())
	if saved > 0 {
		tokensSaved.Add(float64(saved))
	}
}

func ObserveConsolidation(result string) {
	consolidations.WithLabelValues(result).Inc()
}

// ObserveGraph publishes the size of a new snapshot. Register it as a graph
// store commit hook.
func ObserveGraph(stats domain.GraphStats) {
	graphVersion.Set(float64(stats.Version))
	for _, layer := range domain.DurableLayers {
		ls := stats.Layers[layer]
		graphRecords.WithLabelValues(string(layer), "node").Set(float64(ls.Nodes))
		graphRecords.WithLabelValues(string(layer), "edge").Set(float64(ls.Edges))
	}
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
