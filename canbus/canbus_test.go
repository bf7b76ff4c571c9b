package canbus_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchlab/golab/canbus"
	"github.com/benchlab/golab/comm"
)

func TestParseFrame(t *testing.T) {
	f, err := canbus.ParseFrame("0x1A3", "01 02 ff", true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1A3), f.ID)
	assert.Equal(t, []byte{1, 2, 0xff}, f.Data)
	assert.True(t, f.FD)
	assert.False(t, f.Extended)
	assert.Equal(t, "1A3 [3] 01 02 FF", f.String())

	f, err = canbus.ParseFrame("7FF", "", false)
	require.NoError(t, err)
	assert.False(t, f.Extended)
	assert.Equal(t, 0, f.DLC())

	f, err = canbus.ParseFrame("0x800", "00", false)
	require.NoError(t, err)
	assert.True(t, f.Extended)
}

func TestParseFrameRejects(t *testing.T) {
	cases := []struct {
		name, id, data string
		fd             bool
	}{
		{"id not hex", "0xZZ", "01", false},
		{"id too wide", "0x20000000", "01", false},
		{"byte not hex", "100", "01 G1", false},
		{"byte too wide", "100", "100", false},
		{"classic too long", "100", "0 1 2 3 4 5 6 7 8", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := canbus.ParseFrame(c.id, c.data, c.fd)
			assert.True(t, errors.Is(err, canbus.ErrBadFrame), "%v", err)
		})
	}
	_, err := canbus.ParseFrame("100", "0 1 2 3 4 5 6 7 8", true)
	assert.NoError(t, err)
}

type recordBus struct {
	mu    sync.Mutex
	sent  []canbus.Frame
	after int
}

func (b *recordBus) Send(f canbus.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.after > 0 && len(b.sent) == b.after {
		return errors.New("bus off")
	}
	b.sent = append(b.sent, f)
	return nil
}

func (b *recordBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func TestSendPeriodicOnce(t *testing.T) {
	bus := &recordBus{}
	f, _ := canbus.ParseFrame("100", "01", false)
	require.NoError(t, canbus.SendPeriodic(context.Background(), bus, f, 0))
	assert.Equal(t, 1, bus.count())
}

func TestSendPeriodicUntilCancel(t *testing.T) {
	bus := &recordBus{}
	f, _ := canbus.ParseFrame("100", "01", false)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := canbus.SendPeriodic(ctx, bus, f, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, bus.count(), 2)
}

func TestSendPeriodicStopsOnError(t *testing.T) {
	bus := &recordBus{after: 3}
	f, _ := canbus.ParseFrame("100", "01", false)
	err := canbus.SendPeriodic(context.Background(), bus, f, time.Millisecond)
	assert.EqualError(t, err, "bus off")
	assert.Equal(t, 3, bus.count())
}

func TestLogBus(t *testing.T) {
	log, hook := test.NewNullLogger()
	f, _ := canbus.ParseFrame("0x18FF50E5", "AA", true)
	require.NoError(t, canbus.LogBus{Log: log}.Send(f))
	require.Len(t, hook.AllEntries(), 1)
	e := hook.LastEntry()
	assert.Equal(t, "18FF50E5 [1] AA", e.Message)
	assert.Equal(t, true, e.Data["extended"])
}

func writeLog(t *testing.T, path, body string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, when, when))
}

func TestFindInLatestLog(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "bench_")
	writeLog(t, prefix+"old.asc", " 1.0 1 1A3 Rx d 2 01 02\n", time.Hour)
	writeLog(t, prefix+"new.asc", ""+
		" 0.5 1 1A3 Rx d 2 01 02\r\n"+
		" 0.7 1 2B0 Rx d 2 01 02\r\n"+
		" 0.9 1 1A3 Rx d 2 01 02 \r\n", time.Minute)
	writeLog(t, filepath.Join(dir, "other.asc"), " 1.1 1 1A3 Rx d 2 01 02\n", 0)

	res := canbus.FindInLatestLog(prefix, "0x1A3", "01 02")
	assert.Equal(t, comm.StatusPass, res.Status)
	assert.Equal(t, " 0.9 1 1A3 Rx d 2 01 02 ", res.Payload)

	res = canbus.FindInLatestLog(prefix, "0x1A3", "03 04")
	assert.Equal(t, comm.StatusFail, res.Status)
	assert.Contains(t, res.Payload, "bench_new.asc")
}

func TestFindInLatestLogNoFiles(t *testing.T) {
	res := canbus.FindInLatestLog(filepath.Join(t.TempDir(), "none_"), "0x1", "00")
	assert.Equal(t, comm.StatusError, res.Status)
	assert.Contains(t, res.Payload, "no log files")
}
