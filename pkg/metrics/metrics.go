// Package metrics exposes Prometheus collectors for live sessions and tool calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-memoir/pkg/live/session"
)

var allStates = []session.State{
	session.StateIdle,
	session.StateConnecting,
	session.StateConnected,
	session.StateEnding,
}

// Metrics owns a registry; it implements session.Metrics and tools.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	SessionState    *prometheus.GaugeVec
	ConnectDuration *prometheus.HistogramVec
	ConnectTotal    *prometheus.CounterVec
	DisconnectTotal *prometheus.CounterVec
	RetryTotal      *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	ToolTotal       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memoir_session_state",
				Help: "1 for the current live session state, 0 otherwise.",
			},
			[]string{"state"},
		),
		ConnectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memoir_session_connect_duration_seconds",
				Help:    "Time from start to a settled connect attempt.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"outcome"},
		),
		ConnectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memoir_session_connect_total",
				Help: "Connect attempts by outcome.",
			},
			[]string{"outcome"}, // ok | timeout | permission_error | credential_error | handshake_error
		),
		DisconnectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memoir_session_disconnect_total",
				Help: "Unsolicited disconnects by retry decision.",
			},
			[]string{"action"}, // none | retry | unstable | reset
		),
		RetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memoir_session_retry_total",
				Help: "Scheduled reconnects by attempt number.",
			},
			[]string{"attempt"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memoir_tool_duration_seconds",
				Help:    "Tool call handling time.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		ToolTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memoir_tool_calls_total",
				Help: "Tool calls by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
	}
	m.Registry.MustRegister(
		m.SessionState, m.ConnectDuration, m.ConnectTotal,
		m.DisconnectTotal, m.RetryTotal,
		m.ToolDuration, m.ToolTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.StateChanged(session.StateIdle)
	return m
}

func (m *Metrics) StateChanged(s session.State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.SessionState.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) ConnectFinished(outcome string, elapsed time.Duration) {
	if outcome == "" {
		outcome = "error"
	}
	m.ConnectTotal.WithLabelValues(outcome).Inc()
	m.ConnectDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) Disconnected(action string) {
	m.DisconnectTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RetryScheduled(attempt int) {
	m.RetryTotal.WithLabelValues(attemptLabel(attempt)).Inc()
}

func (m *Metrics) ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	if tool == "" {
		tool = "unknown"
	}
	m.ToolTotal.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func attemptLabel(n int) string {
	switch {
	case n <= 0:
		return "0"
	case n >= 9:
		return "9+"
	default:
		return string(rune('0' + n))
	}
}
