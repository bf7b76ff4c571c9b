// Package canbus holds the CAN side of a bench: frames, a transmitter
// interface, and search over the text logs a bus logger leaves behind.
package canbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MaxStandardID is the largest 11-bit arbitration ID
	MaxStandardID = 0x7FF

	// MaxExtendedID is the largest 29-bit arbitration ID
	MaxExtendedID = 0x1FFFFFFF

	maxClassic = 8
	maxFD      = 64
)

// ErrBadFrame is wrapped by every ParseFrame failure
var ErrBadFrame = errors.New("bad CAN frame")

// Frame is a single CAN or CAN FD frame
type Frame struct {
	ID       uint32
	Data     []byte
	FD       bool
	Extended bool
}

// DLC is the number of data bytes
func (f Frame) DLC() int {
	return len(f.Data)
}

// String renders the frame the way bus logs print it, e.g. 1A3 [3] 01 02 FF
func (f Frame) String() string {
	parts := make([]string, len(f.Data))
	for i, b := range f.Data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	s := fmt.Sprintf("%X [%d] %s", f.ID, len(f.Data), strings.Join(parts, " "))
	return strings.TrimSpace(s)
}

// ParseFrame builds a frame from a hex id ("0x1A3" or "1A3") and a payload
// of space separated hex bytes ("01 02 FF").  IDs above 0x7FF are extended.
func ParseFrame(idHex, payloadHex string, fd bool) (Frame, error) {
	id, err := strconv.ParseUint(trimHexPrefix(strings.TrimSpace(idHex)), 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: id %q: %v", ErrBadFrame, idHex, err)
	}
	if id > MaxExtendedID {
		return Frame{}, fmt.Errorf("%w: id %#x exceeds 29 bits", ErrBadFrame, id)
	}
	fields := strings.Fields(payloadHex)
	data := make([]byte, 0, len(fields))
	for _, fld := range fields {
		b, err := strconv.ParseUint(trimHexPrefix(fld), 16, 8)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: byte %q: %v", ErrBadFrame, fld, err)
		}
		data = append(data, byte(b))
	}
	limit := maxClassic
	if fd {
		limit = maxFD
	}
	if len(data) > limit {
		return Frame{}, fmt.Errorf("%w: %d data bytes, limit %d", ErrBadFrame, len(data), limit)
	}
	return Frame{ID: uint32(id), Data: data, FD: fd, Extended: id > MaxStandardID}, nil
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Bus transmits frames
type Bus interface {
	Send(Frame) error
}

// SendPeriodic sends f on bus every period until ctx is done or a send fails.
// A period of zero or less sends once and returns.
func SendPeriodic(ctx context.Context, bus Bus, f Frame, period time.Duration) error {
	if err := bus.Send(f); err != nil {
		return err
	}
	if period <= 0 {
		return nil
	}
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := bus.Send(f); err != nil {
				return err
			}
		}
	}
}

// LogBus is a Bus that only logs what it is asked to send, for benches
// without a CAN interface attached
type LogBus struct {
	Log logrus.FieldLogger
}

// Send logs the frame
func (b LogBus) Send(f Frame) error {
	log := b.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"id":       fmt.Sprintf("%#x", f.ID),
		"fd":       f.FD,
		"extended": f.Extended,
	}).Info(f.String())
	return nil
}
