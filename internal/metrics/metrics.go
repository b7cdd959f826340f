// Package metrics holds the Prometheus collectors for qbank.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the application records to.
type Metrics struct {
	AnswerKeys      *prometheus.CounterVec
	SolveDuration   prometheus.Histogram
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	AnalysisEvents  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnswerKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbank_answer_keys_total",
				Help: "Answer key requests by outcome",
			},
			[]string{"outcome"},
		),
		SolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qbank_solve_duration_seconds",
				Help:    "Duration of solver invocations",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbank_commands_total",
				Help: "Boundary commands by name and status",
			},
			[]string{"command", "status"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qbank_command_duration_seconds",
				Help:    "Duration of boundary commands",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"command"},
		),
		AnalysisEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbank_analysis_events_total",
				Help: "Document analysis events by type",
			},
			[]string{"type"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.AnswerKeys, m.SolveDuration, m.Commands, m.CommandDuration, m.AnalysisEvents)
	}
	return m
}
