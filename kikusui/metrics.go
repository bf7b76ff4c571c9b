package kikusui

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/scpi"
)

var (
	// CommandsTotal counts executed commands by result status
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "psu_commands_total",
		Help: "Commands sent to the power supply, by result status",
	}, []string{"status"})

	// CommandDuration observes the round trip time of each command
	CommandDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "psu_command_duration_seconds",
		Help:    "Round trip time of power supply commands",
		Buckets: prometheus.DefBuckets,
	})

	// ComplianceRuns counts compliance monitor runs by verdict
	ComplianceRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "psu_compliance_runs_total",
		Help: "Completed current compliance runs, by verdict",
	}, []string{"verdict"})

	// LastCurrent is the most recent current sample taken by the monitor
	LastCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "psu_last_current_amps",
		Help: "Most recent output current sampled by the compliance monitor",
	})
)

// RegisterMetrics registers the package collectors with reg.
// Registering twice with the same registry is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{CommandsTotal, CommandDuration, ComplianceRuns, LastCurrent} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func observeCommand(cmd scpi.Command, res comm.Result, took time.Duration) {
	CommandsTotal.WithLabelValues(res.Status.String()).Inc()
	CommandDuration.Observe(took.Seconds())
}
