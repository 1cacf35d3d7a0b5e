package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var processStartedAt = time.Now().UTC()

// StateSource exposes the current lock state for scraping
type StateSource interface {
	State(ctx context.Context) (models.DeviceLockState, error)
}

// Metrics holds the agent's Prometheus registry and counters
type Metrics struct {
	registry       *prometheus.Registry
	blocks         *prometheus.CounterVec
	unlockAttempts *prometheus.CounterVec
	monitorTicks   *prometheus.CounterVec
	remoteFailures *prometheus.CounterVec
	commands       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicelock_blocks_total",
			Help: "Total number of block transitions by reason.",
		}, []string{"reason"}),
		unlockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicelock_unlock_attempts_total",
			Help: "Total number of unlock attempts by outcome.",
		}, []string{"outcome"}),
		monitorTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicelock_monitor_ticks_total",
			Help: "Total number of background monitor ticks by outcome.",
		}, []string{"outcome"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicelock_remote_write_failures_total",
			Help: "Total number of swallowed remote store failures by operation.",
		}, []string{"op"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicelock_remote_commands_total",
			Help: "Total number of remote commands processed by type and status.",
		}, []string{"type", "status"}),
	}

	_ = m.registry.Register(collectors.NewGoCollector())
	_ = m.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "devicelock_uptime_seconds",
		Help: "Process uptime in seconds.",
	}, func() float64 {
		return time.Since(processStartedAt).Seconds()
	}))
	m.registry.MustRegister(m.blocks, m.unlockAttempts, m.monitorTicks, m.remoteFailures, m.commands)

	return m
}

// WatchState registers a collector reporting the live lock state
func (m *Metrics) WatchState(source StateSource) {
	m.registry.MustRegister(newLockStateCollector(source))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BlockRecorded(reason string) {
	m.blocks.WithLabelValues(reason).Inc()
}

func (m *Metrics) UnlockAttempt(outcome string) {
	m.unlockAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MonitorTick(outcome string) {
	m.monitorTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RemoteWriteFailed(op string) {
	m.remoteFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) CommandProcessed(commandType, status string) {
	m.commands.WithLabelValues(commandType, status).Inc()
}

type lockStateCollector struct {
	source StateSource

	blockedDesc        *prometheus.Desc
	failedAttemptsDesc *prometheus.Desc
}

func newLockStateCollector(source StateSource) prometheus.Collector {
	return &lockStateCollector{
		source: source,
		blockedDesc: prometheus.NewDesc(
			"devicelock_blocked",
			"Whether the device is currently blocked (1) or not (0).",
			[]string{"reason"},
			nil,
		),
		failedAttemptsDesc: prometheus.NewDesc(
			"devicelock_failed_unlock_attempts",
			"Consecutive failed unlock attempts since the last successful unlock.",
			nil,
			nil,
		),
	}
}

func (c *lockStateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blockedDesc
	ch <- c.failedAttemptsDesc
}

func (c *lockStateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := c.source.State(ctx)
	if err != nil {
		return
	}

	blocked := 0.0
	if state.IsBlocked {
		blocked = 1
	}
	ch <- prometheus.MustNewConstMetric(c.blockedDesc, prometheus.GaugeValue, blocked, state.BlockReason.String())
	ch <- prometheus.MustNewConstMetric(c.failedAttemptsDesc, prometheus.GaugeValue, float64(state.FailedAttempts))
}
