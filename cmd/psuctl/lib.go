package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/generichttp"
	"github.com/benchlab/golab/kikusui"
	"github.com/benchlab/golab/report"
)

// LogSetup controls the logger
type LogSetup struct {
	// Level is a logrus level, e.g. debug, info, warn
	Level string `koanf:"level" yaml:"level"`

	// Format is text or json
	Format string `koanf:"format" yaml:"format"`
}

// PortSetup describes the serial link to the supply
type PortSetup struct {
	// Label is the port name, e.g. COM5.  The number after the
	// three letter prefix selects ASRL<N>::INSTR
	Label string `koanf:"label" yaml:"label"`

	// Device overrides the OS device for the port, e.g. /dev/ttyUSB0
	Device string `koanf:"device" yaml:"device"`

	Baud        int           `koanf:"baud" yaml:"baud"`
	ReadTimeout time.Duration `koanf:"readtimeout" yaml:"readtimeout"`
	OpenTimeout time.Duration `koanf:"opentimeout" yaml:"opentimeout"`
}

// WindowSetup overrides the compliance monitor's defaults
type WindowSetup struct {
	Passes     int           `koanf:"passes" yaml:"passes"`
	Poll       time.Duration `koanf:"poll" yaml:"poll"`
	BudgetStep time.Duration `koanf:"budgetstep" yaml:"budgetstep"`
}

// ReportSetup configures publication of compliance verdicts
type ReportSetup struct {
	// Valkey is the address of a valkey server; empty disables publication
	Valkey  string `koanf:"valkey" yaml:"valkey"`
	Channel string `koanf:"channel" yaml:"channel"`
}

// Config is the full psuctl configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Endpoint is the URL stem the supply's routes are served under
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// Mock replaces the serial port with a simulated supply
	Mock bool `koanf:"mock" yaml:"mock"`

	// MockOhms is the load the simulated supply drives
	MockOhms float64 `koanf:"mockohms" yaml:"mockohms"`

	// Pace is the minimum spacing between commands
	Pace time.Duration `koanf:"pace" yaml:"pace"`

	Log    LogSetup    `koanf:"log" yaml:"log"`
	Port   PortSetup   `koanf:"port" yaml:"port"`
	Window WindowSetup `koanf:"window" yaml:"window"`
	Report ReportSetup `koanf:"report" yaml:"report"`
}

// DefaultConfig is the configuration used when no file or environment overrides exist
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		Endpoint: "psu",
		MockOhms: 10,
		Pace:     50 * time.Millisecond,
		Log:      LogSetup{Level: "info", Format: "text"},
		Port: PortSetup{
			Label:       "COM1",
			Baud:        19200,
			ReadTimeout: 2 * time.Second,
			OpenTimeout: 5 * time.Second,
		},
		Window: WindowSetup{
			Passes:     kikusui.DefaultRequiredPasses,
			Poll:       kikusui.DefaultPollInterval,
			BudgetStep: kikusui.DefaultBudgetStep,
		},
		Report: ReportSetup{Channel: report.DefaultChannel},
	}
}

// NewLogger builds a logger from the log section of the config
func NewLogger(c LogSetup) (*logrus.Logger, error) {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	switch strings.ToLower(c.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format %q not understood, use text or json", c.Format)
	}
	return log, nil
}

// Bench is a supply, its monitor, and whatever they report to
type Bench struct {
	PSU *kikusui.PowerSupply
	Mon *kikusui.Monitor

	// Sim is the simulated supply when running with Mock
	Sim *kikusui.MockSupply

	closers []func()
}

// NewBench wires a supply and monitor from c.  Nothing is opened.
func NewBench(c Config, log logrus.FieldLogger) (*Bench, error) {
	b := &Bench{}
	var mk comm.ManagerFunc
	if c.Mock {
		b.Sim = kikusui.NewMockSupply(c.MockOhms)
		mk = b.Sim.Manager().Func()
	} else {
		opts := comm.SerialOptions{Baud: c.Port.Baud, ReadTimeout: c.Port.ReadTimeout}
		if c.Port.Device != "" {
			n, err := comm.PortIndex(c.Port.Label)
			if err != nil {
				return nil, err
			}
			opts.Devices = map[int]string{n: c.Port.Device}
		}
		mk = comm.NewSerialManager(opts)
	}
	sess := comm.NewSession(c.Port.Label, mk, log)
	sess.OpenTimeout = c.Port.OpenTimeout
	b.PSU = kikusui.NewPowerSupply(sess, c.Pace, log)

	mon := kikusui.NewMonitor(b.PSU, log)
	mon.Port = c.Port.Label
	mon.RequiredPasses = c.Window.Passes
	mon.PollInterval = c.Window.Poll
	mon.BudgetStep = c.Window.BudgetStep
	reporters := report.Multi{report.LogReporter{Log: log}}
	if c.Report.Valkey != "" {
		vr, err := report.NewValkeyReporter(c.Report.Valkey, c.Report.Channel)
		if err != nil {
			return nil, fmt.Errorf("valkey %s: %w", c.Report.Valkey, err)
		}
		reporters = append(reporters, vr)
		b.closers = append(b.closers, vr.Close)
	}
	mon.Reporter = reporters
	b.Mon = mon
	return b, nil
}

// Close closes the supply and releases the reporters
func (b *Bench) Close() comm.Result {
	res := b.PSU.Close()
	for _, c := range b.closers {
		c()
	}
	b.closers = nil
	return res
}

// Once opens the supply, runs fcn if the open passed, and closes the bench
// whatever the outcome.  A failed close is logged.
func (b *Bench) Once(fcn func(*kikusui.PowerSupply) comm.Result, log logrus.FieldLogger) comm.Result {
	defer func() {
		if cl := b.Close(); !cl.OK() && log != nil {
			log.Warn(cl.String())
		}
	}()
	res := b.PSU.Open()
	if !res.OK() {
		return res
	}
	return fcn(b.PSU)
}

// BuildMux constructs a chi router serving the bench under c.Endpoint,
// /metrics for prometheus, and /endpoints listing every route as JSON
func BuildMux(c Config, b *Bench, reg *prometheus.Registry) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	httper := kikusui.NewHTTPWrapper(b.PSU, b.Mon)
	hndlS := generichttp.SubMuxSanitize(c.Endpoint)
	supergraph := map[string][]string{hndlS: httper.RT().Endpoints()}

	r := chi.NewRouter()
	r.Use(httper.Lock.Check)
	httper.RT().Bind(r)
	root.Mount(hndlS, r)

	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

// NewRegistry returns a registry holding the supply metrics and the
// standard process and go collectors
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg, kikusui.RegisterMetrics(reg)
}

// ExitCode maps a verdict to the process exit status, 0 pass 1 fail 2 anything else
func ExitCode(s comm.Status) int {
	switch s {
	case comm.StatusPass:
		return 0
	case comm.StatusFail:
		return 1
	default:
		return 2
	}
}
