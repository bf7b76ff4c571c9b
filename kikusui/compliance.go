package kikusui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/report"
)

const (
	// DefaultRequiredPasses is the number of consecutive in-range samples for a pass
	DefaultRequiredPasses = 10

	// DefaultPollInterval is the time between current samples
	DefaultPollInterval = 200 * time.Millisecond

	// DefaultBudgetStep is how much of the duration budget each tick consumes.
	// It is twice the poll interval, so a run gives up after roughly half
	// of the requested duration of wall time.  Bench scripts written
	// against this supply were tuned with that behavior.
	DefaultBudgetStep = 2 * DefaultPollInterval
)

// ErrInvalidWindow is generated for bounds or durations the monitor cannot use
var ErrInvalidWindow = errors.New("invalid compliance window")

// Window is the tolerance a monitored current must satisfy
type Window struct {
	// Lower and Upper are the inclusive bounds, in amps
	Lower, Upper float64

	// Duration is the budget for the whole run
	Duration time.Duration

	// RequiredPasses is the number of consecutive in-range samples needed to pass
	RequiredPasses int

	// PollInterval is the sleep between samples
	PollInterval time.Duration

	// BudgetStep is subtracted from the remaining budget on every tick
	BudgetStep time.Duration
}

// NewWindow returns a Window with the default pass count, poll interval, and budget step
func NewWindow(lower, upper float64, d time.Duration) Window {
	return Window{
		Lower:          lower,
		Upper:          upper,
		Duration:       d,
		RequiredPasses: DefaultRequiredPasses,
		PollInterval:   DefaultPollInterval,
		BudgetStep:     DefaultBudgetStep}
}

// ParseWindow builds a Window from text bounds and a duration in milliseconds
func ParseWindow(lower, upper, durationMs string) (Window, error) {
	lo, err := strconv.ParseFloat(strings.TrimSpace(lower), 64)
	if err != nil {
		return Window{}, fmt.Errorf("%w: lower bound %q is not a number", ErrInvalidWindow, lower)
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(upper), 64)
	if err != nil {
		return Window{}, fmt.Errorf("%w: upper bound %q is not a number", ErrInvalidWindow, upper)
	}
	ms, err := strconv.ParseFloat(strings.TrimSpace(durationMs), 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return Window{}, fmt.Errorf("%w: duration %q is not a number of milliseconds", ErrInvalidWindow, durationMs)
	}
	w := NewWindow(lo, hi, time.Duration(ms*float64(time.Millisecond)))
	return w, w.Validate()
}

// Validate checks that the window can be monitored
func (w Window) Validate() error {
	switch {
	case math.IsNaN(w.Lower) || math.IsInf(w.Lower, 0):
		return fmt.Errorf("%w: lower bound %v", ErrInvalidWindow, w.Lower)
	case math.IsNaN(w.Upper) || math.IsInf(w.Upper, 0):
		return fmt.Errorf("%w: upper bound %v", ErrInvalidWindow, w.Upper)
	case w.Lower > w.Upper:
		return fmt.Errorf("%w: lower bound %v above upper bound %v", ErrInvalidWindow, w.Lower, w.Upper)
	case w.Duration <= 0:
		return fmt.Errorf("%w: duration %v", ErrInvalidWindow, w.Duration)
	case w.RequiredPasses <= 0:
		return fmt.Errorf("%w: required passes %d", ErrInvalidWindow, w.RequiredPasses)
	case w.PollInterval < 0 || w.BudgetStep <= 0:
		return fmt.Errorf("%w: poll interval %v, budget step %v", ErrInvalidWindow, w.PollInterval, w.BudgetStep)
	}
	return nil
}

// Contains is true if x is within [Lower, Upper]
func (w Window) Contains(x float64) bool {
	return x >= w.Lower && x <= w.Upper
}

// Verdict is the outcome of one compliance run
type Verdict struct {
	// Status is StatusPass, StatusFail, or StatusError
	Status comm.Status

	// Message is advisory text for an operator
	Message string

	// Samples is the number of current readings taken
	Samples int

	// Consecutive is the in-range streak when the run ended
	Consecutive int

	// Last is the final (floored) sample
	Last float64

	// Elapsed is the wall time from the first sleep to the verdict
	Elapsed time.Duration
}

// Result converts the Verdict to a comm.Result
func (v Verdict) Result() comm.Result {
	return comm.Result{Status: v.Status, Payload: v.Message}
}

// CurrentReader is anything that can read an output current, e.g. *PowerSupply
type CurrentReader interface {
	ReadCurrent() comm.Result
}

// Monitor runs compliance checks against a CurrentReader.
// It blocks the caller for the length of each run.
type Monitor struct {
	src CurrentReader
	log logrus.FieldLogger

	// Port labels published runs
	Port string

	// RequiredPasses, PollInterval, and BudgetStep override the package
	// defaults for runs started with CheckCurrentInRange when non-zero
	RequiredPasses int
	PollInterval   time.Duration
	BudgetStep     time.Duration

	// Reporter, if not nil, receives every finished run
	Reporter report.Reporter

	// Sleep and Now default to time.Sleep and time.Now
	Sleep func(time.Duration)
	Now   func() time.Time
}

// NewMonitor creates a new Monitor reading from src
func NewMonitor(src CurrentReader, log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{src: src, log: log, Sleep: time.Sleep, Now: time.Now}
}

// Window returns a Window for the bounds and duration with the monitor's overrides applied
func (m *Monitor) Window(lower, upper float64, total time.Duration) Window {
	w := NewWindow(lower, upper, total)
	if m.RequiredPasses > 0 {
		w.RequiredPasses = m.RequiredPasses
	}
	if m.PollInterval > 0 {
		w.PollInterval = m.PollInterval
	}
	if m.BudgetStep > 0 {
		w.BudgetStep = m.BudgetStep
	}
	return w
}

// CheckCurrentInRange asserts that the current stays within [lower, upper]
// for RequiredPasses consecutive samples before the budget runs out
func (m *Monitor) CheckCurrentInRange(ctx context.Context, lower, upper float64, total time.Duration) Verdict {
	return m.Run(ctx, m.Window(lower, upper, total))
}

// CheckCurrentInRangeText is CheckCurrentInRange for text arguments, with
// the duration in milliseconds.  Unparseable input yields an error Verdict.
func (m *Monitor) CheckCurrentInRangeText(ctx context.Context, lower, upper, totalMs string) Verdict {
	w, err := ParseWindow(lower, upper, totalMs)
	if err != nil {
		return m.finish(ctx, w, Verdict{Status: comm.StatusError, Message: err.Error()})
	}
	return m.Run(ctx, m.Window(w.Lower, w.Upper, w.Duration))
}

// Run executes one compliance run.
//
// Each tick sleeps PollInterval, charges BudgetStep to the budget, and samples
// the current.  Unreadable or negative samples count as 0.  An in-range sample
// extends the streak; anything else resets it.  The run passes as soon as the
// streak reaches RequiredPasses and fails once the budget is spent.
func (m *Monitor) Run(ctx context.Context, w Window) Verdict {
	if err := w.Validate(); err != nil {
		return m.finish(ctx, w, Verdict{Status: comm.StatusError, Message: err.Error()})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		v         Verdict
		remaining = w.Duration
		start     = m.now()
		lastFail  string
	)
	for {
		if err := ctx.Err(); err != nil {
			v.Status = comm.StatusError
			v.Message = fmt.Sprintf("current check aborted after %d samples: %v", v.Samples, err)
			v.Elapsed = m.now().Sub(start)
			return m.finish(ctx, w, v)
		}
		m.sleep(w.PollInterval)
		remaining -= w.BudgetStep

		res := m.src.ReadCurrent()
		sample := floorSample(res)
		v.Samples++
		v.Last = sample
		LastCurrent.Set(sample)

		if w.Contains(sample) {
			v.Consecutive++
		} else {
			v.Consecutive = 0
			lastFail = fmt.Sprintf("current check fail, value is %.3f outside [%.3f, %.3f]", sample, w.Lower, w.Upper)
			m.log.WithFields(logrus.Fields{"sample": sample, "tick": v.Samples}).Debug("current out of range")
		}

		if v.Consecutive >= w.RequiredPasses {
			v.Elapsed = m.now().Sub(start)
			v.Status = comm.StatusPass
			v.Message = fmt.Sprintf("%s current check pass, value is %.3f", FormatElapsed(v.Elapsed), sample)
			return m.finish(ctx, w, v)
		}
		if remaining <= 0 {
			v.Elapsed = m.now().Sub(start)
			v.Status = comm.StatusFail
			if lastFail != "" {
				v.Message = fmt.Sprintf("%s %s", FormatElapsed(v.Elapsed), lastFail)
			} else {
				v.Message = fmt.Sprintf("%s current in range for only %d of %d samples",
					FormatElapsed(v.Elapsed), v.Consecutive, w.RequiredPasses)
			}
			if !res.OK() {
				v.Message += fmt.Sprintf(", last read failed: %s", res.Payload)
			}
			return m.finish(ctx, w, v)
		}
	}
}

func (m *Monitor) finish(ctx context.Context, w Window, v Verdict) Verdict {
	ComplianceRuns.WithLabelValues(v.Status.String()).Inc()
	entry := m.log.WithFields(logrus.Fields{
		"op":      "compliance",
		"status":  v.Status.String(),
		"samples": v.Samples,
	})
	if v.Status == comm.StatusPass {
		entry.Info(v.Message)
	} else {
		entry.Warn(v.Message)
	}
	if m.Reporter != nil {
		if ctx == nil || ctx.Err() != nil {
			ctx = context.Background()
		}
		run := report.Run{
			Port:        m.Port,
			Lower:       w.Lower,
			Upper:       w.Upper,
			DurationMs:  w.Duration.Milliseconds(),
			Status:      v.Status,
			Message:     v.Message,
			Samples:     v.Samples,
			Consecutive: v.Consecutive,
			Last:        v.Last,
			ElapsedMs:   v.Elapsed.Milliseconds(),
			Time:        m.now()}
		if err := m.Reporter.Report(ctx, run); err != nil {
			m.log.WithError(err).Warn("could not report compliance run")
		}
	}
	return v
}

// floorSample parses a current reading, mapping failures and negatives to 0
func floorSample(res comm.Result) float64 {
	if !res.OK() {
		return 0
	}
	f, err := res.Float()
	if err != nil || math.IsNaN(f) || f < 0 {
		return 0
	}
	return f
}

// FormatElapsed renders a duration like "0 hour 01 minute 05 second"
func FormatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d hour %02d minute %02d second", secs/3600, (secs/60)%60, secs%60)
}

func (m *Monitor) sleep(d time.Duration) {
	if m.Sleep != nil {
		m.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
