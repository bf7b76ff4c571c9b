package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/kikusui"
)

func mockBench(t *testing.T) (Config, *Bench) {
	t.Helper()
	c := DefaultConfig()
	c.Mock = true
	c.MockOhms = 2
	c.Pace = 0
	c.Port.Label = "COM3"
	log, err := NewLogger(LogSetup{Level: "panic", Format: "json"})
	require.NoError(t, err)
	b, err := NewBench(c, log)
	require.NoError(t, err)
	b.Mon.Sleep = func(time.Duration) {}
	return c, b
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(LogSetup{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = NewLogger(LogSetup{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(LogSetup{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewBenchRejectsBadLabel(t *testing.T) {
	c := DefaultConfig()
	c.Port.Label = "COMX"
	c.Port.Device = "/dev/ttyUSB0"
	_, err := NewBench(c, nil)
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "port.label", envKey("PSUCTL_PORT_LABEL"))
	assert.Equal(t, "window.budgetstep", envKey("PSUCTL_WINDOW_BUDGETSTEP"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(comm.StatusPass))
	assert.Equal(t, 1, ExitCode(comm.StatusFail))
	assert.Equal(t, 2, ExitCode(comm.StatusError))
	assert.Equal(t, 2, ExitCode(comm.StatusPortNotFound))
}

func TestBuildMux(t *testing.T) {
	c, b := mockBench(t)
	reg, err := NewRegistry()
	require.NoError(t, err)
	srv := httptest.NewServer(BuildMux(c, b, reg))
	defer srv.Close()

	post := func(path, body string) *http.Response {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	resp := post("/psu/open", "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("/psu/voltage", `{"f64": 2}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, b.Sim.Volts())

	resp = post("/psu/compliance", `{"lower": 0.9, "upper": 1.1, "durationms": 5000}`)
	out := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pass", out["status"])

	resp, err = http.Get(srv.URL + "/endpoints")
	require.NoError(t, err)
	graph := map[string][]string{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graph))
	resp.Body.Close()
	assert.Contains(t, graph["/psu"], "POST /voltage")

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "psu_commands_total")
	assert.Contains(t, string(body), "psu_compliance_runs_total")

	assert.True(t, b.Close().OK())
}

func TestOnceClosesAfterFailedOpen(t *testing.T) {
	c := DefaultConfig()
	c.Mock = true
	c.Port.Label = "COM3"
	b, err := NewBench(c, nil)
	require.NoError(t, err)
	released := 0
	b.closers = append(b.closers, func() { released++ })

	ran := false
	b.PSU = kikusui.NewPowerSupply(comm.NewSession("COMX", nil, nil), 0, nil)
	res := b.Once(func(*kikusui.PowerSupply) comm.Result { ran = true; return comm.Pass("") }, nil)
	assert.Equal(t, comm.StatusInvalidParameter, res.Status)
	assert.False(t, ran)
	assert.Equal(t, 1, released)
}

func TestOnceRunsAndCloses(t *testing.T) {
	_, b := mockBench(t)
	released := 0
	b.closers = append(b.closers, func() { released++ })

	res := b.Once(func(ps *kikusui.PowerSupply) comm.Result { return ps.SetVoltage(3) }, nil)
	assert.True(t, res.OK())
	assert.Equal(t, 3.0, b.Sim.Volts())
	assert.False(t, b.PSU.Session().Connected())
	assert.Equal(t, 1, released)
}
