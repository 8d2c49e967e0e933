package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	gatewayUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatekeep",
			Subsystem: "gateway",
			Name:      "up",
			Help:      "1 when the supervised gateway process is running.",
		},
	)
	gatewayCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatekeep",
			Subsystem: "gateway",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the gateway process.",
		},
	)
	gatewayMemoryMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatekeep",
			Subsystem: "gateway",
			Name:      "memory_mb",
			Help:      "Resident memory of the gateway process in MB.",
		},
	)
	gatewayUptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatekeep",
			Subsystem: "gateway",
			Name:      "uptime_seconds",
			Help:      "Uptime of the gateway process in seconds.",
		},
	)
	restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeep",
			Subsystem: "gateway",
			Name:      "restarts_total",
			Help:      "Number of restart attempts by trigger and outcome.",
		}, []string{"trigger", "success"},
	)
	restartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gatekeep",
			Subsystem: "gateway",
			Name:      "restart_duration_seconds",
			Help:      "Wall-clock duration of restart attempts.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	webhookChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeep",
			Subsystem: "webhook",
			Name:      "checks_total",
			Help:      "Number of webhook reconciliation cycles by action taken.",
		}, []string{"action"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		gatewayUp, gatewayCPUPercent, gatewayMemoryMB, gatewayUptimeSeconds,
		restartsTotal, restartDuration, webhookChecksTotal,
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

// Handler returns an http.Handler serving the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func SetGatewayStatus(running bool, cpuPercent, memoryMB float64, uptimeSeconds int64) {
	if !regOK.Load() {
		return
	}
	if running {
		gatewayUp.Set(1)
	} else {
		gatewayUp.Set(0)
	}
	gatewayCPUPercent.Set(cpuPercent)
	gatewayMemoryMB.Set(memoryMB)
	gatewayUptimeSeconds.Set(float64(uptimeSeconds))
}

func IncRestart(trigger string, success bool) {
	if regOK.Load() {
		restartsTotal.WithLabelValues(trigger, strconv.FormatBool(success)).Inc()
	}
}

func ObserveRestartDuration(seconds float64) {
	if regOK.Load() {
		restartDuration.Observe(seconds)
	}
}

func IncWebhookCheck(action string) {
	if regOK.Load() {
		webhookChecksTotal.WithLabelValues(action).Inc()
	}
}
