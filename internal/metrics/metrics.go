package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runonce",
			Subsystem: "lifecycle",
			Name:      "decisions_total",
			Help:      "Lock evaluations by outcome.",
		}, []string{"task", "decision"},
	)
	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runonce",
			Name:      "launch_total",
			Help:      "Number of instances started.",
		}, []string{"task"},
	)
	kills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runonce",
			Name:      "kills_total",
			Help:      "Instances terminated, by reason (stale: overrun prior instance, timeout: active supervision).",
		}, []string{"task", "reason"},
	)
	lastExit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runonce",
			Name:      "last_exit_status",
			Help:      "Exit status reported by the most recent invocation.",
		}, []string{"task"},
	)
	lastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runonce",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the most recent invocation finished.",
		}, []string{"task"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range []prometheus.Collector{
		decisions, launches, kills, lastExit, lastRun,
		childCPUPercent, childRSSBytes, childPeakRSSBytes, childThreads, childFDs,
	} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// WriteTextfile dumps g in the text exposition format for the node_exporter
// textfile collector. The file is replaced atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

// Helpers below no-op until Register has been called.

func IncDecision(task, decision string) {
	if regOK.Load() {
		decisions.WithLabelValues(task, decision).Inc()
	}
}

func IncLaunch(task string) {
	if regOK.Load() {
		launches.WithLabelValues(task).Inc()
	}
}

func IncKill(task, reason string) {
	if regOK.Load() {
		kills.WithLabelValues(task, reason).Inc()
	}
}

func SetLastExit(task string, status int, unix float64) {
	if regOK.Load() {
		lastExit.WithLabelValues(task).Set(float64(status))
		lastRun.WithLabelValues(task).Set(unix)
	}
}
