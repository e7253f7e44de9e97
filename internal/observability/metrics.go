package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	loopRoundsTotal      *prometheus.CounterVec
	loopRunsTotal        *prometheus.CounterVec
	loopRunDuration      *prometheus.HistogramVec
	loopTruncationsTotal *prometheus.CounterVec
	modelCallsTotal      *prometheus.CounterVec

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec

	bridgeRequestsTotal   *prometheus.CounterVec
	bridgeRequestDuration *prometheus.HistogramVec
	bridgeRestartsTotal   *prometheus.CounterVec
	bridgeState           *prometheus.GaugeVec
	bridgeDroppedFrames   *prometheus.CounterVec

	subagentRunsTotal *prometheus.CounterVec
	subagentActive    prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			loopRoundsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loop_rounds_total",
					Help: "Total execution loop rounds by role.",
				},
				[]string{"role"},
			),
			loopRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loop_runs_total",
					Help: "Total execution loop runs by role and terminal status.",
				},
				[]string{"role", "status"},
			),
			loopRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "loop_run_duration_seconds",
					Help:    "Execution loop run duration in seconds by role.",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
				},
				[]string{"role"},
			),
			loopTruncationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loop_truncations_total",
					Help: "Truncated rounds by role and kind (tool_output, max_tokens).",
				},
				[]string{"role", "kind"},
			),
			modelCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_calls_total",
					Help: "Model provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			toolDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_dispatch_total",
					Help: "Tool dispatches by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_dispatch_duration_seconds",
					Help:    "Tool dispatch duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			bridgeRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_requests_total",
					Help: "Bridge requests by bridge, method and status.",
				},
				[]string{"bridge", "method", "status"},
			),
			bridgeRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "bridge_request_duration_seconds",
					Help:    "Bridge request latency in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"bridge", "method"},
			),
			bridgeRestartsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_restarts_total",
					Help: "Bridge process restarts.",
				},
				[]string{"bridge"},
			),
			bridgeState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "bridge_state",
					Help: "Current bridge state as its numeric value.",
				},
				[]string{"bridge"},
			),
			bridgeDroppedFrames: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_dropped_frames_total",
					Help: "Inbound frames dropped by bridge and reason.",
				},
				[]string{"bridge", "reason"},
			),
			subagentRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "subagent_runs_total",
					Help: "Subagent runs by role and status.",
				},
				[]string{"role", "status"},
			),
			subagentActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "subagent_active",
					Help: "Subagents currently running.",
				},
			),
		}

		prometheus.MustRegister(
			m.loopRoundsTotal,
			m.loopRunsTotal,
			m.loopRunDuration,
			m.loopTruncationsTotal,
			m.modelCallsTotal,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.bridgeRequestsTotal,
			m.bridgeRequestDuration,
			m.bridgeRestartsTotal,
			m.bridgeState,
			m.bridgeDroppedFrames,
			m.subagentRunsTotal,
			m.subagentActive,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordLoopRound(role string) {
	getMetrics().loopRoundsTotal.WithLabelValues(role).Inc()
}

// RecordLoopRun records a finished run; status is completed, timeout, fatal or cancelled.
func RecordLoopRun(role, status string, duration time.Duration) {
	m := getMetrics()
	m.loopRunsTotal.WithLabelValues(role, status).Inc()
	m.loopRunDuration.WithLabelValues(role).Observe(duration.Seconds())
}

func RecordTruncation(role, kind string) {
	getMetrics().loopTruncationsTotal.WithLabelValues(role, kind).Inc()
}

func RecordModelCall(provider string, success bool) {
	getMetrics().modelCallsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
}

func RecordToolDispatch(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolDispatchTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolDispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordBridgeRequest records one request; status is success, error, rpc_error or timeout.
func RecordBridgeRequest(bridge, method, status string, duration time.Duration) {
	m := getMetrics()
	m.bridgeRequestsTotal.WithLabelValues(bridge, method, status).Inc()
	m.bridgeRequestDuration.WithLabelValues(bridge, method).Observe(duration.Seconds())
}

func RecordBridgeRestart(bridge string) {
	getMetrics().bridgeRestartsTotal.WithLabelValues(bridge).Inc()
}

func SetBridgeState(bridge string, state int) {
	getMetrics().bridgeState.WithLabelValues(bridge).Set(float64(state))
}

func RecordDroppedFrame(bridge, reason string) {
	getMetrics().bridgeDroppedFrames.WithLabelValues(bridge, reason).Inc()
}

func RecordSubagentRun(role string, success bool) {
	getMetrics().subagentRunsTotal.WithLabelValues(role, statusLabel(success)).Inc()
}

func IncSubagentActive() { getMetrics().subagentActive.Inc() }
func DecSubagentActive() { getMetrics().subagentActive.Dec() }
