// Package metrics provides Prometheus-based metrics recording for
// benchmark runs, exported in text exposition format for textfile
// collection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects measurements during a run on a private registry so
// repeated runs in one process never collide.
type Recorder struct {
	registry         *prometheus.Registry
	buildDuration    *prometheus.HistogramVec
	hotpatchDuration *prometheus.HistogramVec
	scenariosTotal   *prometheus.CounterVec
	sessionFailures  *prometheus.CounterVec
	runDuration      prometheus.Gauge
	runCompleted     prometheus.Gauge
}

// NewRecorder creates a recorder with all run metrics registered.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		buildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bench_build_duration_seconds",
				Help:    "Duration of timed builds by scenario and build kind",
				Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"scenario", "kind"},
		),
		hotpatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bench_hotpatch_duration_seconds",
				Help:    "Time from source mutation to patched payload confirmation",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"scenario"},
		),
		scenariosTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bench_scenarios_total",
				Help: "Number of scenarios measured by outcome",
			},
			[]string{"status"},
		),
		sessionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bench_session_failures_total",
				Help: "Hotpatch session failures by reason",
			},
			[]string{"reason"},
		),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bench_run_duration_seconds",
			Help: "Wall clock duration of the whole run",
		}),
		runCompleted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bench_run_completed_timestamp_seconds",
			Help: "Unix time the run finished",
		}),
	}
}

// ObserveBuild records one timed build.
func (r *Recorder) ObserveBuild(scenario, kind string, duration time.Duration) {
	r.buildDuration.WithLabelValues(scenario, kind).Observe(duration.Seconds())
}

// ObserveHotpatch records a confirmed hotpatch latency.
func (r *Recorder) ObserveHotpatch(scenario string, duration time.Duration) {
	r.hotpatchDuration.WithLabelValues(scenario).Observe(duration.Seconds())
}

// ObserveScenario records a scenario outcome.
func (r *Recorder) ObserveScenario(success bool) {
	status := "ok"
	if !success {
		status = "failed"
	}
	r.scenariosTotal.WithLabelValues(status).Inc()
}

// IncSessionFailure records a hotpatch session failure by reason.
func (r *Recorder) IncSessionFailure(reason string) {
	r.sessionFailures.WithLabelValues(reason).Inc()
}

// ObserveRun records the overall run timing.
func (r *Recorder) ObserveRun(started, finished time.Time) {
	r.runDuration.Set(finished.Sub(started).Seconds())
	r.runCompleted.Set(float64(finished.Unix()))
}
