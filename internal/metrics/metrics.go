// Package metrics exposes Prometheus counters/gauges for the scheduler
// tick loop, worker spawns, and fleet kill operations (SPEC_FULL.md §4
// domain-stack "Metrics" row). Grounded on the teacher's metrics.go:
// same Register-once/no-op-until-registered discipline and the same
// promhttp.Handler() exposition pattern, recounted against cron-domain
// events instead of process-supervision ones.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cronman",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one scheduler Tick call.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	ticksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronman",
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Ticks that returned early without running, by reason.",
		}, []string{"reason"},
	)
	jobsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronman",
			Subsystem: "scheduler",
			Name:      "jobs_started_total",
			Help:      "Worker subprocesses started, by job class.",
		}, []string{"job_class"},
	)
	jobsStartFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronman",
			Subsystem: "scheduler",
			Name:      "jobs_start_failed_total",
			Help:      "Worker spawn attempts that returned an error, by job class.",
		}, []string{"job_class"},
	)
	lockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronman",
			Subsystem: "worker",
			Name:      "lock_contention_total",
			Help:      "Worker runs that gave up because a lock file was held, by job class.",
		}, []string{"job_class"},
	)
	fleetKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronman",
			Subsystem: "fleet",
			Name:      "kills_total",
			Help:      "PID files moved to TERMED or KILLED by a Fleet.Kill call, by outcome.",
		}, []string{"outcome"},
	)
	remoteControlCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cronman",
			Subsystem: "remotectl",
			Name:      "calls_total",
			Help:      "RemoteControl Redis operations, by op and outcome (ok/failed/disabled).",
		}, []string{"op", "outcome"},
	)
)

// Register registers every collector above with r. Safe to call more than
// once; later calls after a successful first are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		tickDuration, ticksSkipped, jobsStarted, jobsStartFailed,
		lockContention, fleetKills, remoteControlCalls,
	}
	for _, c := range cs {
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

// Handler serves Prometheus metrics for the DefaultGatherer; the caller
// wires it onto an HTTP mux at config.MetricsConfig.Listen.
func Handler() http.Handler { return promhttp.Handler() }

// Below are no-op-until-registered recording helpers. No other package in
// this module calls them, so the collectors stay at zero unless code
// outside the module records values.

func ObserveTickDuration(seconds float64) {
	if regOK.Load() {
		tickDuration.Observe(seconds)
	}
}

func IncTickSkipped(reason string) {
	if regOK.Load() {
		ticksSkipped.WithLabelValues(reason).Inc()
	}
}

func IncJobStarted(jobClass string) {
	if regOK.Load() {
		jobsStarted.WithLabelValues(jobClass).Inc()
	}
}

func IncJobStartFailed(jobClass string) {
	if regOK.Load() {
		jobsStartFailed.WithLabelValues(jobClass).Inc()
	}
}

func IncLockContention(jobClass string) {
	if regOK.Load() {
		lockContention.WithLabelValues(jobClass).Inc()
	}
}

func IncFleetKill(outcome string) {
	if regOK.Load() {
		fleetKills.WithLabelValues(outcome).Inc()
	}
}

func IncRemoteControlCall(op, outcome string) {
	if regOK.Load() {
		remoteControlCalls.WithLabelValues(op, outcome).Inc()
	}
}
