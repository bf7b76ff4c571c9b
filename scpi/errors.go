package scpi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/benchlab/golab/comm"
)

// maxErrorReads bounds AllErrors; SCPI error queues hold a few dozen entries
const maxErrorReads = 32

// QueueError is one entry from the instrument's error queue
type QueueError struct {
	Code int
	Msg  string
}

// Error satisfies stdlib error interface
func (e QueueError) Error() string {
	return fmt.Sprintf("%d - %s", e.Code, e.Msg)
}

// ParseQueueError parses a SYSTem:ERRor? reply like -113,"Undefined header".
// A zero code means the queue is empty.
func ParseQueueError(s string) (QueueError, error) {
	pieces := strings.SplitN(strings.TrimSpace(s), ",", 2)
	code, err := strconv.Atoi(strings.TrimPrefix(pieces[0], "+"))
	if err != nil {
		return QueueError{}, fmt.Errorf("malformed error queue entry %q", s)
	}
	qe := QueueError{Code: code}
	if len(pieces) == 2 {
		qe.Msg = strings.Trim(strings.TrimSpace(pieces[1]), `"`)
	}
	return qe, nil
}

// PopError gets a single error from the queue on the device.
// The payload is empty when the queue is empty.
func (e *Executor) PopError() comm.Result {
	res := e.Execute(NewCommand("SYST:ERR?"), true)
	if !res.OK() {
		return res
	}
	qe, err := ParseQueueError(res.Payload)
	if err != nil {
		return comm.Error(err)
	}
	if qe.Code == 0 {
		return comm.Pass("")
	}
	return comm.Pass(qe.Error())
}

// AllErrors drains the error queue, joining the entries by newline.
// A clean queue yields a passing Result with an empty payload.
func (e *Executor) AllErrors() comm.Result {
	var errs []string
	for i := 0; i < maxErrorReads; i++ {
		res := e.PopError()
		if !res.OK() {
			return res
		}
		if res.Payload == "" {
			break
		}
		errs = append(errs, res.Payload)
	}
	return comm.Pass(strings.Join(errs, "\n"))
}
