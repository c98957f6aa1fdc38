// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tamzrod/pump-monitor/internal/status"
)

// Cycle results.
const (
	ResultOK       = "ok"
	ResultNoUpdate = "no_update"
	ResultPartial  = "partial"
	ResultError    = "error"
)

// Metrics holds the device-client collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Cycles       *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	Reconnects   *prometheus.CounterVec
	State        *prometheus.GaugeVec
	CycleSeconds *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_poll_cycles_total",
			Help: "Poll cycles by device and result.",
		}, []string{"device", "result"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_retries_total",
			Help: "Repeated device queries by device and operation.",
		}, []string{"device", "op"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_reconnects_total",
			Help: "Connection attempts after the first, by device.",
		}, []string{"device"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_connection_state",
			Help: "Connection state (0=disconnected 1=connecting 2=connected 3=faulted).",
		}, []string{"device"}),
		CycleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "monitor_poll_cycle_seconds",
			Help:    "Duration of the I/O part of one poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"device"}),
	}

	reg.MustRegister(m.Cycles, m.Retries, m.Reconnects, m.State, m.CycleSeconds)
	return m
}

func (m *Metrics) ObserveCycle(device, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(device, result).Inc()
	m.CycleSeconds.WithLabelValues(device).Observe(d.Seconds())
}

// IncCycle counts a cycle that produced no meaningful duration.
func (m *Metrics) IncCycle(device, result string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(device, result).Inc()
}

func (m *Metrics) IncRetry(device, op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(device, op).Inc()
}

func (m *Metrics) IncReconnect(device string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(device).Inc()
}

func (m *Metrics) SetState(device string, s status.State) {
	if m == nil {
		return
	}
	m.State.WithLabelValues(device).Set(float64(s))
}
