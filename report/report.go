// Package report publishes the outcome of compliance runs so that bench
// dashboards and test sequencers can follow along.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valkey-io/valkey-go"

	"github.com/benchlab/golab/comm"
)

// DefaultChannel is the pub/sub channel used when none is configured
const DefaultChannel = "bench.psu.compliance"

// ErrNoClient is generated when a ValkeyReporter has no client
var ErrNoClient = errors.New("valkey client is nil")

// Run is one finished compliance run
type Run struct {
	Port        string      `json:"port"`
	Lower       float64     `json:"lower"`
	Upper       float64     `json:"upper"`
	DurationMs  int64       `json:"durationms"`
	Status      comm.Status `json:"status"`
	Message     string      `json:"message"`
	Samples     int         `json:"samples"`
	Consecutive int         `json:"consecutive"`
	Last        float64     `json:"last"`
	ElapsedMs   int64       `json:"elapsedms"`
	Time        time.Time   `json:"time"`
}

// Encode renders a Run as the JSON published on the wire
func Encode(run Run) (string, error) {
	b, err := json.Marshal(run)
	return string(b), err
}

// Reporter receives finished runs
type Reporter interface {
	Report(ctx context.Context, run Run) error
}

// LogReporter writes each run to a logger
type LogReporter struct {
	Log logrus.FieldLogger
}

// Report satisfies Reporter
func (l LogReporter) Report(ctx context.Context, run Run) error {
	log := l.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"port":    run.Port,
		"status":  run.Status.String(),
		"lower":   run.Lower,
		"upper":   run.Upper,
		"samples": run.Samples,
		"elapsed": time.Duration(run.ElapsedMs) * time.Millisecond,
	}).Info(run.Message)
	return nil
}

// ValkeyReporter publishes each run as JSON on a valkey (or redis) channel
type ValkeyReporter struct {
	client  valkey.Client
	channel string
}

// NewValkeyReporter connects to the valkey server at addr
func NewValkeyReporter(addr, channel string) (*ValkeyReporter, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, err
	}
	return NewValkeyReporterWithClient(client, channel), nil
}

// NewValkeyReporterWithClient wraps an existing client
func NewValkeyReporterWithClient(client valkey.Client, channel string) *ValkeyReporter {
	if channel == "" {
		channel = DefaultChannel
	}
	return &ValkeyReporter{client: client, channel: channel}
}

// Channel returns the channel runs are published on
func (v *ValkeyReporter) Channel() string {
	return v.channel
}

// Report satisfies Reporter
func (v *ValkeyReporter) Report(ctx context.Context, run Run) error {
	if v.client == nil {
		return ErrNoClient
	}
	msg, err := Encode(run)
	if err != nil {
		return err
	}
	cmd := v.client.B().Publish().Channel(v.channel).Message(msg).Build()
	return v.client.Do(ctx, cmd).Error()
}

// Close releases the client
func (v *ValkeyReporter) Close() {
	if v.client != nil {
		v.client.Close()
	}
}

// Multi fans a run out to several Reporters, returning the first error
// after all of them have been tried
type Multi []Reporter

// Report satisfies Reporter
func (m Multi) Report(ctx context.Context, run Run) error {
	var first error
	for _, r := range m {
		if err := r.Report(ctx, run); err != nil && first == nil {
			first = err
		}
	}
	return first
}
