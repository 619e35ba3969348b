package docrepo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// buildCount counts completed jobs by kind, repository and whether
	// they ended successfully.
	buildCount *prometheus.CounterVec
	// buildLatency tracks how long a job took from start to its
	// terminal path.
	buildLatency *prometheus.HistogramVec
)

// EnableMetrics registers the orchestrator's Prometheus metrics.
// Available metrics:
//   - zigdoc_build_count (tags: repo, kind, success)
//     Count of SyncLatest/SyncRepository job completions.
//   - zigdoc_build_latency_seconds (tags: repo, kind)
//     Latency of a job from the start of its body to its terminal path.
func EnableMetrics(namespace string, registerer prometheus.Registerer) {
	buildCount = promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "zigdoc_build_count",
		Help:      "Count of documentation build job completions",
	}, []string{"repo", "kind", "success"})

	buildLatency = promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "zigdoc_build_latency_seconds",
		Help:      "Latency of a documentation build job",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"repo", "kind"})
}

func recordBuild(kind, repo string, success bool, start time.Time) {
	if buildCount != nil {
		buildCount.WithLabelValues(repo, kind, boolString(success)).Inc()
	}
	if buildLatency != nil {
		buildLatency.WithLabelValues(repo, kind).Observe(time.Since(start).Seconds())
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
