package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatewarden"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "current_state",
			Help:      "Current lifecycle state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by message key and delivery result.",
		}, []string{"key", "result"},
	)
	portGateActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "port_gate",
			Name:      "actions_total",
			Help:      "Port gate block/allow calls by result.",
		}, []string{"action", "result"},
	)
	watchdogPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "polls_total",
			Help:      "Watchdog polls by outcome.",
		}, []string{"result"},
	)
	zombiesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "zombies_detected_total",
			Help:      "Number of zombie detections.",
		},
	)
	watchdogKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "kills_total",
			Help:      "Forced kills by result.",
		}, []string{"result"},
	)
	logRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "rotations_total",
			Help:      "Number of detected log truncations or recreations.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		stateTransitions, currentState, notifications, portGateActions,
		watchdogPolls, zombiesDetected, watchdogKills, logRotations,
		serverCPUPercent, serverMemoryMB, serverThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state as the active one among all.
func SetCurrentState(state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		var v float64
		if s == state {
			v = 1
		}
		currentState.WithLabelValues(s).Set(v)
	}
}

func IncNotification(key, result string) {
	if regOK.Load() {
		notifications.WithLabelValues(key, result).Inc()
	}
}

func IncPortGate(action string, ok bool) {
	if regOK.Load() {
		portGateActions.WithLabelValues(action, result(ok)).Inc()
	}
}

func IncWatchdogPoll(result string) {
	if regOK.Load() {
		watchdogPolls.WithLabelValues(result).Inc()
	}
}

func IncZombieDetected() {
	if regOK.Load() {
		zombiesDetected.Inc()
	}
}

func IncKill(ok bool) {
	if regOK.Load() {
		watchdogKills.WithLabelValues(result(ok)).Inc()
	}
}

func IncRotation() {
	if regOK.Load() {
		logRotations.Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
