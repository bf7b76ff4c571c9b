// Package kikusui enables control of KIKUSUI programmable DC power supplies
// over RS-232, and provides a compliance monitor which checks that the output
// current stays inside a tolerance window.
package kikusui

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/scpi"
)

var (
	// ErrBadVoltage is generated when a voltage is not a finite number
	ErrBadVoltage = errors.New("voltage must be a finite number")

	// ErrBadProgramName is generated for program names that cannot be quoted on the wire
	ErrBadProgramName = errors.New("program name must be non-empty and free of quotes and line breaks")
)

const (
	cmdSetVolt    = "VOLT %.3f"
	cmdProgName   = `PROG:NAME "%s"`
	cmdProgRun    = "PROG:EXEC:STAT RUN"
	cmdProgStop   = "PROG:EXEC:STAT STOP"
	cmdReadVolt   = "READ:VOLT?"
	cmdReadCurr   = "READ:CURR?"
	cmdFetchVolt  = "FETC:VOLT?"
	cmdFetchCurr  = "FETC:CURR?"
	fireAndForget = false
	query         = true
)

// PowerSupply is a KIKUSUI supply reached through a comm.Session.
// Every method returns a comm.Result; none of them panic on I/O failure.
// It is not safe for concurrent use.
type PowerSupply struct {
	sess *comm.Session
	ex   *scpi.Executor
	log  logrus.FieldLogger
}

// NewPowerSupply creates a new PowerSupply on top of sess.  gap is the
// minimum spacing between commands, zero to disable pacing.
func NewPowerSupply(sess *comm.Session, gap time.Duration, log logrus.FieldLogger) *PowerSupply {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("port", sess.Label())
	ex := scpi.NewExecutor(sess, gap, log)
	ex.Observe = observeCommand
	return &PowerSupply{sess: sess, ex: ex, log: log}
}

// Session returns the underlying transport session
func (ps *PowerSupply) Session() *comm.Session {
	return ps.sess
}

// Open connects to the supply
func (ps *PowerSupply) Open() comm.Result {
	return ps.sess.Open()
}

// Close disconnects from the supply
func (ps *PowerSupply) Close() comm.Result {
	return ps.sess.Close()
}

// SetVoltage programs the output voltage, in volts, to three decimals
func (ps *PowerSupply) SetVoltage(v float64) comm.Result {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return comm.Error(ErrBadVoltage)
	}
	return ps.ex.Execute(scpi.Commandf(cmdSetVolt, v), fireAndForget)
}

// SetVoltageText is SetVoltage for a caller-supplied string, e.g. from a test script
func (ps *PowerSupply) SetVoltageText(v string) comm.Result {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return comm.Error(fmt.Errorf("%w: %q", ErrBadVoltage, v))
	}
	return ps.SetVoltage(f)
}

// LoadProgram selects a stored sequence program by name
func (ps *PowerSupply) LoadProgram(name string) comm.Result {
	if name == "" || strings.ContainsAny(name, "\"\r\n") {
		return comm.Error(ErrBadProgramName)
	}
	return ps.ex.Execute(scpi.Commandf(cmdProgName, name), fireAndForget)
}

// RunProgram starts the loaded sequence program
func (ps *PowerSupply) RunProgram() comm.Result {
	return ps.ex.Execute(scpi.NewCommand(cmdProgRun), fireAndForget)
}

// StopProgram stops the running sequence program
func (ps *PowerSupply) StopProgram() comm.Result {
	return ps.ex.Execute(scpi.NewCommand(cmdProgStop), fireAndForget)
}

// ReadVoltage triggers a new measurement and returns the voltage as ASCII
func (ps *PowerSupply) ReadVoltage() comm.Result {
	return ps.ex.Execute(scpi.NewCommand(cmdReadVolt), query)
}

// ReadCurrent triggers a new measurement and returns the current as ASCII
func (ps *PowerSupply) ReadCurrent() comm.Result {
	return ps.ex.Execute(scpi.NewCommand(cmdReadCurr), query)
}

// FetchVoltage returns the most recent voltage measurement without triggering
func (ps *PowerSupply) FetchVoltage() comm.Result {
	return ps.ex.Execute(scpi.NewCommand(cmdFetchVolt), query)
}

// FetchCurrent returns the most recent current measurement without triggering
func (ps *PowerSupply) FetchCurrent() comm.Result {
	return ps.ex.Execute(scpi.NewCommand(cmdFetchCurr), query)
}

// Errors drains the supply's error queue
func (ps *PowerSupply) Errors() comm.Result {
	return ps.ex.AllErrors()
}

// Raw sends a command and retrieves the reply if there is a question mark in the command
func (ps *PowerSupply) Raw(cmd string) comm.Result {
	return ps.ex.Raw(cmd)
}
