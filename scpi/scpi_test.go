package scpi_test

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/scpi"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func connected(t *testing.T, res *comm.MockResource) *comm.Session {
	s := comm.NewSession("COM1", comm.NewMockManager(res).Func(), quietLogger())
	require.True(t, s.Open().OK())
	return s
}

func TestNewCommandQueryDetection(t *testing.T) {
	assert.True(t, scpi.NewCommand("READ:CURR?").Query)
	assert.False(t, scpi.NewCommand("VOLT 1.000").Query)
	assert.Equal(t, "VOLT 1.000", scpi.NewCommand("VOLT 1.000\r\n").Line)
	assert.Equal(t, `PROG:NAME "3"`, scpi.Commandf("PROG:NAME %q", "3").String())
}

func TestExecuteNotConnected(t *testing.T) {
	res := &comm.MockResource{}
	s := comm.NewSession("COM1", comm.NewMockManager(res).Func(), quietLogger())
	ex := scpi.NewExecutor(s, 0, quietLogger())

	out := ex.Execute(scpi.NewCommand("READ:CURR?"), true)
	assert.Equal(t, comm.StatusError, out.Status)
	assert.Equal(t, "not connected", out.Payload)
	assert.Empty(t, res.Written(), "transport must not be touched")
}

func TestExecuteQueryReadsAndFrames(t *testing.T) {
	res := &comm.MockResource{Respond: func(line string) (string, error) {
		return "\x13\x111.234\r\n", nil
	}}
	ex := scpi.NewExecutor(connected(t, res), 0, quietLogger())

	out := ex.Execute(scpi.NewCommand("READ:CURR?"), true)
	assert.Equal(t, comm.Pass("1.234"), out)
	assert.Equal(t, []string{"READ:CURR?"}, res.Written())
}

func TestExecuteSingleTerminator(t *testing.T) {
	var raw []string
	res := &comm.MockResource{Respond: func(line string) (string, error) {
		raw = append(raw, line)
		return "", nil
	}}
	ex := scpi.NewExecutor(connected(t, res), 0, quietLogger())
	ex.Execute(scpi.NewCommand("VOLT 5.000\n"), false)
	// one line written means exactly one newline went out
	assert.Equal(t, []string{"VOLT 5.000"}, raw)
}

func TestExecuteNoReadWhenNotExpected(t *testing.T) {
	reads := 0
	res := &comm.MockResource{Respond: func(line string) (string, error) {
		reads++
		return "unexpected\r\n", nil
	}}
	s := connected(t, res)
	ex := scpi.NewExecutor(s, 0, quietLogger())

	assert.Equal(t, comm.Pass(""), ex.Execute(scpi.NewCommand("READ:CURR?"), false))
	assert.Equal(t, comm.Pass(""), ex.Execute(scpi.NewCommand("VOLT 1.000"), true))
	assert.Equal(t, 2, reads)
}

func TestExecuteFaultsBecomeErrors(t *testing.T) {
	t.Run("write", func(t *testing.T) {
		res := &comm.MockResource{}
		s := connected(t, res)
		res.WriteErr = errors.New("port vanished")
		out := scpi.NewExecutor(s, 0, quietLogger()).Execute(scpi.NewCommand("READ:VOLT?"), true)
		assert.Equal(t, comm.Error(errors.New("port vanished")), out)
	})
	t.Run("read", func(t *testing.T) {
		res := &comm.MockResource{}
		s := connected(t, res)
		res.ReadErr = errors.New("framing error")
		out := scpi.NewExecutor(s, 0, quietLogger()).Execute(scpi.NewCommand("READ:VOLT?"), true)
		assert.Equal(t, comm.StatusError, out.Status)
		assert.Equal(t, "framing error", out.Payload)
	})
	t.Run("timeout", func(t *testing.T) {
		s := connected(t, &comm.MockResource{})
		out := scpi.NewExecutor(s, 0, quietLogger()).Execute(scpi.NewCommand("READ:VOLT?"), true)
		assert.Equal(t, comm.StatusError, out.Status)
		assert.Equal(t, comm.ErrNoResponse.Error(), out.Payload)
	})
}

func TestExecuteObserverAndPacing(t *testing.T) {
	res := &comm.MockResource{}
	ex := scpi.NewExecutor(connected(t, res), 20*time.Millisecond, quietLogger())
	var seen []comm.Status
	ex.Observe = func(cmd scpi.Command, r comm.Result, took time.Duration) {
		seen = append(seen, r.Status)
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		ex.Execute(scpi.NewCommand("PROG:EXEC:STAT RUN"), false)
	}
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, []comm.Status{comm.StatusPass, comm.StatusPass, comm.StatusPass}, seen)
}

func TestRaw(t *testing.T) {
	res := &comm.MockResource{Respond: func(line string) (string, error) {
		if line == "*IDN?" {
			return "KIKUSUI,PWR401L,AB123456,1.00\r\n", nil
		}
		return "", nil
	}}
	ex := scpi.NewExecutor(connected(t, res), 0, quietLogger())
	assert.Equal(t, comm.Pass("KIKUSUI,PWR401L,AB123456,1.00"), ex.Raw("*IDN?"))
	assert.Equal(t, comm.Pass(""), ex.Raw("OUTP ON"))
}

func TestAllErrors(t *testing.T) {
	queue := []string{`-113,"Undefined header"`, `ERR,"garbled"`, `0,"No error"`}
	res := &comm.MockResource{Respond: func(line string) (string, error) {
		if line != "SYST:ERR?" || len(queue) == 0 {
			return "", nil
		}
		head := queue[0]
		queue = queue[1:]
		return head + "\r\n", nil
	}}
	ex := scpi.NewExecutor(connected(t, res), 0, quietLogger())
	out := ex.AllErrors()
	// the malformed second entry stops the drain with an error
	assert.Equal(t, comm.StatusError, out.Status)

	queue = []string{`-113,"Undefined header"`, `-222,"Data out of range"`, `0,"No error"`}
	out = ex.AllErrors()
	require.True(t, out.OK())
	assert.Equal(t, "-113 - Undefined header\n-222 - Data out of range", out.Payload)

	queue = []string{`+0,"No error"`}
	assert.Equal(t, comm.Pass(""), ex.AllErrors())
}

func TestParseQueueError(t *testing.T) {
	qe, err := scpi.ParseQueueError(`-410,"Query INTERRUPTED"`)
	require.NoError(t, err)
	assert.Equal(t, scpi.QueueError{Code: -410, Msg: "Query INTERRUPTED"}, qe)
	_, err = scpi.ParseQueueError("")
	assert.Error(t, err)
}
