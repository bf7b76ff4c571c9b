package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/benchlab/golab/canbus"
	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/kikusui"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "psuctl.yml"

	// EnvPrefix marks environment variables that override the config,
	// PSUCTL_PORT_LABEL=COM7 sets port.label
	EnvPrefix = "PSUCTL_"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			logrus.Fatalf("error loading config: %v", err)
		}
	}
	k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
}

func loadConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		logrus.Fatal(err)
	}
	return c
}

func root() {
	str := `psuctl drives a KIKUSUI programmable power supply over RS-232 and checks
that its output current stays inside a window

Usage:
	psuctl <command> [args]

Commands:
	run
	check LOWER UPPER MS
	set VOLTS
	read volt|curr
	raw CMD
	cansend ID PAYLOAD MS
	canfind PREFIX ID PAYLOAD
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `psuctl is configured by psuctl.yml in the working directory and by
environment variables prefixed PSUCTL_, e.g. PSUCTL_PORT_LABEL=COM7.
mkconf writes the defaults to psuctl.yml, conf prints the effective config.

run serves the supply over HTTP at addr, under endpoint:
	POST /open, /close
	POST /voltage {"f64": 5}, GET /voltage, GET /voltage/fetch
	GET /current, GET /current/fetch
	POST /program {"str": "name"}, POST /program/run, POST /program/stop
	POST /raw {"str": "*IDN?"}
	GET /errors
	POST /compliance {"lower": 0.9, "upper": 1.1, "durationms": 5000}
	GET /compliance/check?lower=0.9&upper=1.1&durationms=5000
	GET, POST /lock {"bool": true}
and /metrics and /endpoints at the root.  Responses are {"status", "payload"}
with HTTP 200 pass, 422 fail, 404 PortNotFound, 400 InvalidParameter, 500 error.
Routes other than /lock answer 423 while a compliance run is in progress.

check runs a single compliance check.  The current must be read inside
[LOWER, UPPER] amps window.passes times in a row within MS milliseconds.
The exit status is 0 for pass, 1 for fail, and 2 for error.

cansend logs a CAN frame, repeating every MS milliseconds until interrupted
when MS is positive.  canfind searches the newest log file starting with
PREFIX for the last line holding ID and PAYLOAD.

Set mock: true to run against a simulated supply driving mockohms.`
	fmt.Println(str)
}

func mkconf() {
	c := loadConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		logrus.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func printconf() {
	c := loadConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("psuctl version %v\n", Version)
}

func setup() (Config, *logrus.Logger, *Bench) {
	c := loadConfig()
	log, err := NewLogger(c.Log)
	if err != nil {
		logrus.Fatal(err)
	}
	b, err := NewBench(c, log)
	if err != nil {
		log.Fatal(err)
	}
	return c, log, b
}

func run() {
	c, log, b := setup()
	defer b.Close()
	reg, err := NewRegistry()
	if err != nil {
		log.Fatal(err)
	}
	mux := BuildMux(c, b, reg)
	log.WithField("addr", c.Addr).Info("now listening for requests")
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

// oneshot opens the supply, runs fcn, closes, and prints the result
func oneshot(fcn func(*kikusui.PowerSupply) comm.Result) int {
	_, log, b := setup()
	res := b.Once(fcn, log)
	fmt.Println(res.String())
	return ExitCode(res.Status)
}

func check(args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: psuctl check LOWER UPPER MS")
		return 2
	}
	_, log, b := setup()
	defer b.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           fmt.Sprintf("current in [%s, %s] A", args[0], args[1]),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	res := b.PSU.Open()
	if !res.OK() {
		fmt.Println(res.String())
		return ExitCode(res.Status)
	}
	spinner.Start()
	v := b.Mon.CheckCurrentInRangeText(ctx, args[0], args[1], args[2])
	if v.Status == comm.StatusPass {
		spinner.StopMessage(v.Message)
		spinner.Stop()
	} else {
		spinner.StopFailMessage(v.Result().String())
		spinner.StopFail()
	}
	return ExitCode(v.Status)
}

func set(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: psuctl set VOLTS")
		return 2
	}
	return oneshot(func(ps *kikusui.PowerSupply) comm.Result {
		return ps.SetVoltageText(args[0])
	})
}

func read(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: psuctl read volt|curr")
		return 2
	}
	var fcn func(*kikusui.PowerSupply) comm.Result
	switch strings.ToLower(args[0]) {
	case "volt", "voltage":
		fcn = (*kikusui.PowerSupply).ReadVoltage
	case "curr", "current":
		fcn = (*kikusui.PowerSupply).ReadCurrent
	default:
		fmt.Fprintf(os.Stderr, "cannot read %q, use volt or curr\n", args[0])
		return 2
	}
	return oneshot(fcn)
}

func raw(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: psuctl raw CMD")
		return 2
	}
	line := strings.Join(args, " ")
	return oneshot(func(ps *kikusui.PowerSupply) comm.Result {
		return ps.Raw(line)
	})
}

func cansend(args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: psuctl cansend ID PAYLOAD MS")
		return 2
	}
	log, err := NewLogger(loadConfig().Log)
	if err != nil {
		logrus.Fatal(err)
	}
	f, err := canbus.ParseFrame(args[0], args[1], true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	ms, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = canbus.SendPeriodic(ctx, canbus.LogBus{Log: log}, f, time.Duration(ms)*time.Millisecond)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}

func canfind(args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: psuctl canfind PREFIX ID PAYLOAD")
		return 2
	}
	res := canbus.FindInLatestLog(args[0], args[1], args[2])
	fmt.Println(res.String())
	return ExitCode(res.Status)
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		pversion()
	case "check":
		os.Exit(check(args[2:]))
	case "set":
		os.Exit(set(args[2:]))
	case "read":
		os.Exit(read(args[2:]))
	case "raw":
		os.Exit(raw(args[2:]))
	case "cansend":
		os.Exit(cansend(args[2:]))
	case "canfind":
		os.Exit(canfind(args[2:]))
	default:
		logrus.Fatal("unknown command")
	}
}
