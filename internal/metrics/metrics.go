// Package metrics is the process-wide Prometheus metrics registry for
// the build-and-launch coordinator.
//
// This is the one piece of justified global mutable state in the
// service (spec.md §9): initialized once at startup via NewRegistry,
// passed down to every component that needs it, never replaced.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// Status label values shared by build and launch metrics.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusRetry   = "retry"
)

// NonTerminalRetries is recorded in the "retries" label on every
// non-terminal retry attempt and on terminal failures. The retry index
// (0-based) is recorded only on final success — see spec.md §4.3 and
// §9 ("launch_count on retries").
const NonTerminalRetries = "-1"

// buildBuckets and launchBuckets are deliberately separate: builds and
// launches have very different characteristic durations, and Prometheus
// bills you per bucket.
var (
	buildBuckets  = []float64{60, 120, 300, 600, 1800, 3600, 7200}
	launchBuckets = []float64{2, 5, 10, 20, 30, 60, 120, 300, 600}
)

// RepoLabels is the {provider, repo} label pair attached to build_count
// and launch_count.
type RepoLabels struct {
	Provider string
	Repo     string
}

func (l RepoLabels) asMap(status string) prometheus.Labels {
	return prometheus.Labels{
		"status":   status,
		"provider": l.Provider,
		"repo":     l.Repo,
	}
}

// Registry bundles the four metric families and two gauges of spec.md
// §4.3: build_time_seconds, launch_time_seconds, build_count,
// launch_count, inprogress_builds, inprogress_launches.
type Registry struct {
	BuildTime  *prometheus.HistogramVec
	LaunchTime *prometheus.HistogramVec
	BuildCount *prometheus.CounterVec
	LaunchCount *prometheus.CounterVec

	BuildsInProgress  prometheus.Gauge
	LaunchesInProgress prometheus.Gauge
}

// NewRegistry constructs a Registry and registers every instrument with
// reg. Call once at process startup.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		BuildTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "binderhub_build_time_seconds",
			Help:    "Histogram of build times",
			Buckets: withInf(buildBuckets),
		}, []string{"status"}),
		LaunchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "binderhub_launch_time_seconds",
			Help:    "Histogram of launch times",
			Buckets: withInf(launchBuckets),
		}, []string{"status", "retries"}),
		BuildCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "binderhub_build_count",
			Help: "Counter of builds by repo",
		}, []string{"status", "provider", "repo"}),
		LaunchCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "binderhub_launch_count",
			Help: "Counter of launches by repo",
		}, []string{"status", "provider", "repo"}),
		BuildsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "binderhub_inprogress_builds",
			Help: "Builds currently in progress",
		}),
		LaunchesInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "binderhub_inprogress_launches",
			Help: "Launches currently in progress",
		}),
	}

	reg.MustRegister(
		m.BuildTime,
		m.LaunchTime,
		m.BuildCount,
		m.LaunchCount,
		m.BuildsInProgress,
		m.LaunchesInProgress,
	)
	return m
}

// withInf appends +Inf as the final bucket boundary, matching Python's
// float('inf') top bucket in the original histogram definitions.
func withInf(buckets []float64) []float64 {
	return append(append([]float64{}, buckets...), math.Inf(1))
}

// ObserveBuildTime records a build duration with the given status.
func (m *Registry) ObserveBuildTime(status string, seconds float64) {
	m.BuildTime.WithLabelValues(status).Observe(seconds)
}

// ObserveLaunchTime records a launch-attempt duration. retries is the
// string form of the label: NonTerminalRetries for retry/failure
// observations, or the 0-based attempt index for a success.
func (m *Registry) ObserveLaunchTime(status, retries string, seconds float64) {
	m.LaunchTime.WithLabelValues(status, retries).Observe(seconds)
}

// IncBuildCount increments build_count{status, provider, repo}.
func (m *Registry) IncBuildCount(status string, labels RepoLabels) {
	m.BuildCount.With(labels.asMap(status)).Inc()
}

// IncLaunchCount increments launch_count{status, provider, repo}. Per
// spec.md §9, this is intentionally NOT called for non-terminal retry
// attempts — only for the final success or the terminal failure.
func (m *Registry) IncLaunchCount(status string, labels RepoLabels) {
	m.LaunchCount.With(labels.asMap(status)).Inc()
}
