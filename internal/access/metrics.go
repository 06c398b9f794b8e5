package access

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	metricVerdicts       *prometheus.CounterVec
	metricFilteredEvents *prometheus.CounterVec
	metricPortalDialogs  *prometheus.CounterVec
	metricPortalPending  prometheus.Gauge
)

func initMetrics() {
	metricVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waveguard",
			Subsystem: "access",
			Name:      "verdicts_total",
			Help:      "Total access-hook decisions by hook and verdict.",
		},
		[]string{"hook", "verdict"},
	)

	metricFilteredEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waveguard",
			Subsystem: "access",
			Name:      "filtered_events_total",
			Help:      "Total subscription events examined by the visibility filter.",
		},
		[]string{"verdict"},
	)

	metricPortalDialogs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waveguard",
			Subsystem: "access",
			Name:      "portal_dialogs_total",
			Help:      "Total portal consent dialogs by outcome.",
		},
		[]string{"outcome"},
	)

	metricPortalPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "waveguard",
			Subsystem: "access",
			Name:      "portal_pending",
			Help:      "Number of consent dialogs currently awaiting a response.",
		},
	)

	prometheus.MustRegister(metricVerdicts, metricFilteredEvents, metricPortalDialogs, metricPortalPending)
}

func ensureMetrics() {
	metricsOnce.Do(initMetrics)
}

func observeVerdict(hook HookKind, v Verdict) {
	metricVerdicts.WithLabelValues(hook.String(), v.String()).Inc()
}

func observeFilteredEvent(v Verdict) {
	metricFilteredEvents.WithLabelValues(v.String()).Inc()
}

func observePortalDialog(outcome dialogOutcome) {
	metricPortalDialogs.WithLabelValues(string(outcome)).Inc()
}
