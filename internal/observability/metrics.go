package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	busPublishedTotal   *prometheus.CounterVec
	busQueueSize        *prometheus.GaugeVec
	busDeliveredTotal   *prometheus.CounterVec
	busDispatchErrTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	guardBlocksTotal      *prometheus.CounterVec

	agentTurnsTotal    *prometheus.CounterVec
	agentTurnDuration  *prometheus.HistogramVec
	agentIterations    prometheus.Histogram
	agentFallbackTotal *prometheus.CounterVec
	providerCallTotal  *prometheus.CounterVec

	sessionOpsTotal     *prometheus.CounterVec
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	activeSessions      prometheus.Gauge

	subagentsRunning prometheus.Gauge
	cronRunsTotal    *prometheus.CounterVec

	channelMessagesTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			busPublishedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_bus_published_total",
					Help: "Total messages published by queue.",
				},
				[]string{"queue"},
			),
			busQueueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "nanobot_bus_queue_size",
					Help: "Current bus queue depth by queue.",
				},
				[]string{"queue"},
			),
			busDeliveredTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_bus_delivered_total",
					Help: "Outbound messages handed to subscribers by channel.",
				},
				[]string{"channel"},
			),
			busDispatchErrTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_bus_dispatch_errors_total",
					Help: "Subscriber failures during outbound dispatch by channel.",
				},
				[]string{"channel"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_tool_executions_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "nanobot_tool_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			guardBlocksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_guard_blocks_total",
					Help: "Shell commands rejected by the safety guard by reason.",
				},
				[]string{"reason"},
			),
			agentTurnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_agent_turns_total",
					Help: "Total agent turns by channel and status.",
				},
				[]string{"channel", "status"},
			),
			agentTurnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "nanobot_agent_turn_duration_seconds",
					Help:    "Agent turn duration in seconds by channel.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"channel"},
			),
			agentIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "nanobot_agent_iterations",
					Help:    "Model calls per agent turn.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 40},
				},
			),
			agentFallbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_agent_fallbacks_total",
					Help: "Turns that ended with a fallback reply by kind.",
				},
				[]string{"kind"},
			),
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_provider_calls_total",
					Help: "LLM provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			sessionOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_session_operations_total",
					Help: "Session store operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "nanobot_session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "nanobot_session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "nanobot_active_sessions",
					Help: "Sessions currently held in the cache.",
				},
			),
			subagentsRunning: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "nanobot_subagents_running",
					Help: "Background subagents currently running.",
				},
			),
			cronRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_cron_runs_total",
					Help: "Cron job executions by status.",
				},
				[]string{"status"},
			),
			channelMessagesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "nanobot_channel_messages_total",
					Help: "Inbound chat messages by channel and status (accepted, denied).",
				},
				[]string{"channel", "status"},
			),
		}

		prometheus.MustRegister(
			m.busPublishedTotal,
			m.busQueueSize,
			m.busDeliveredTotal,
			m.busDispatchErrTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.guardBlocksTotal,
			m.agentTurnsTotal,
			m.agentTurnDuration,
			m.agentIterations,
			m.agentFallbackTotal,
			m.providerCallTotal,
			m.sessionOpsTotal,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.activeSessions,
			m.subagentsRunning,
			m.cronRunsTotal,
			m.channelMessagesTotal,
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

func RecordBusPublish(queue string, queueSize int) {
	m := getMetrics()
	m.busPublishedTotal.WithLabelValues(queue).Inc()
	m.busQueueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func SetBusQueueSize(queue string, queueSize int) {
	getMetrics().busQueueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func RecordBusDelivery(channel string, success bool) {
	m := getMetrics()
	m.busDeliveredTotal.WithLabelValues(channel).Inc()
	if !success {
		m.busDispatchErrTotal.WithLabelValues(channel).Inc()
	}
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordGuardBlock(reason string) {
	getMetrics().guardBlocksTotal.WithLabelValues(reason).Inc()
}

func RecordAgentTurn(channel string, duration time.Duration, iterations int, success bool) {
	m := getMetrics()
	m.agentTurnsTotal.WithLabelValues(channel, statusLabel(success)).Inc()
	m.agentTurnDuration.WithLabelValues(channel).Observe(duration.Seconds())
	if iterations > 0 {
		m.agentIterations.Observe(float64(iterations))
	}
}

func RecordAgentFallback(kind string) {
	getMetrics().agentFallbackTotal.WithLabelValues(kind).Inc()
}

func RecordProviderCall(provider string, success bool) {
	getMetrics().providerCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
}

func RecordSessionLoad(duration time.Duration, success bool) {
	m := getMetrics()
	m.sessionOpsTotal.WithLabelValues("load", statusLabel(success)).Inc()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration, success bool) {
	m := getMetrics()
	m.sessionOpsTotal.WithLabelValues("save", statusLabel(success)).Inc()
	m.sessionSaveDuration.Observe(duration.Seconds())
}

func RecordSessionDelete(success bool) {
	getMetrics().sessionOpsTotal.WithLabelValues("delete", statusLabel(success)).Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func SetSubagentsRunning(count int) {
	getMetrics().subagentsRunning.Set(float64(count))
}

func RecordCronRun(success bool) {
	getMetrics().cronRunsTotal.WithLabelValues(statusLabel(success)).Inc()
}

func RecordChannelMessage(channel string, accepted bool) {
	status := "accepted"
	if !accepted {
		status = "denied"
	}
	getMetrics().channelMessagesTotal.WithLabelValues(channel, status).Inc()
}
