// Package metrics exposes Prometheus collectors for probe attempts, AT
// command executions and response decoding.
//
// A nil *Metrics is valid and records nothing, so callers that do not care
// about metrics can leave it unset.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modemdiag"

type Metrics struct {
	probes          *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	decodes         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Endpoint probe attempts by scan phase and outcome.",
		}, []string{"phase", "outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "AT commands executed by result status.",
		}, []string{"status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from sending an AT command to its final result code.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"status"}),
		decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decodes_total",
			Help:      "Response decoding attempts by parser key and outcome.",
		}, []string{"parser", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.probes, m.commands, m.commandDuration, m.decodes)
	}
	return m
}

// ObserveProbe counts one probe attempt of the given scan phase.
func (m *Metrics) ObserveProbe(phase int, working bool) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(strconv.Itoa(phase), outcome(working)).Inc()
}

// ObserveCommand records one executed command.
func (m *Metrics) ObserveCommand(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(status).Inc()
	m.commandDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveDecode records whether a parser produced structured fields.
func (m *Metrics) ObserveDecode(parser string, matched bool) {
	if m == nil {
		return
	}
	m.decodes.WithLabelValues(parser, outcome(matched)).Inc()
}

// WriteTextfile dumps everything gathered by g in the text exposition format,
// suitable for the node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
