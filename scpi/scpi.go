// Package scpi provides the command layer for instruments with SCPI
// interfaces: framing, query detection, and a single executor which turns
// every transport failure into a comm.Result.
package scpi

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/benchlab/golab/comm"
)

// Transport is the part of a comm.Session the executor needs
type Transport interface {
	Connected() bool
	Write(string) error
	Read() (string, error)
}

// Observer is notified of every executed command, e.g. to record metrics
type Observer func(cmd Command, res comm.Result, took time.Duration)

// Executor sends Commands over a Transport and normalizes every outcome
// into a comm.Result.  It is the only place transport errors are handled.
type Executor struct {
	tr   Transport
	pace *rate.Limiter
	log  logrus.FieldLogger

	// Observe, if not nil, is called after every Execute
	Observe Observer
}

// NewExecutor creates a new Executor.  If gap is positive, consecutive
// commands are spaced at least gap apart; serial supplies drop input
// that arrives while they are still parsing the previous line.
func NewExecutor(tr Transport, gap time.Duration, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Executor{tr: tr, log: log}
	if gap > 0 {
		e.pace = rate.NewLimiter(rate.Every(gap), 1)
	}
	return e
}

// Execute writes cmd followed by a single newline.  If expectResponse is true
// and cmd is a query, one line is read back and its framed payload returned.
// Otherwise the payload is empty.
func (e *Executor) Execute(cmd Command, expectResponse bool) comm.Result {
	start := time.Now()
	res := e.execute(cmd, expectResponse)
	if e.Observe != nil {
		e.Observe(cmd, res, time.Since(start))
	}
	entry := e.log.WithFields(logrus.Fields{"op": "execute", "cmd": cmd.Line, "status": res.Status.String()})
	if res.OK() {
		entry.Debug(res.Payload)
	} else {
		entry.Warn(res.Payload)
	}
	return res
}

func (e *Executor) execute(cmd Command, expectResponse bool) comm.Result {
	if e.tr == nil || !e.tr.Connected() {
		return comm.Error(comm.ErrNotConnected)
	}
	if e.pace != nil {
		time.Sleep(e.pace.Reserve().Delay())
	}
	err := e.tr.Write(cmd.Line + "\n")
	if err != nil {
		return comm.Error(err)
	}
	if expectResponse && cmd.Query {
		raw, err := e.tr.Read()
		if err != nil {
			return comm.Error(err)
		}
		return comm.Pass(ExtractPayload(raw))
	}
	return comm.Pass("")
}

// Raw sends a line and returns the reply if there is a question mark in it,
// else an empty passing Result
func (e *Executor) Raw(line string) comm.Result {
	cmd := NewCommand(line)
	return e.Execute(cmd, cmd.Query)
}
