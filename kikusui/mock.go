package kikusui

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/benchlab/golab/comm"
)

// MockSupply simulates a KIKUSUI supply driving a resistive load.
// It speaks the same framing as the hardware, including the DC3 DC1
// prefix, so everything above the transport runs unmodified against it.
type MockSupply struct {
	sync.Mutex

	// Ohms is the load resistance
	Ohms float64

	// Current, if not nil, overrides the simulated current on each read.
	// It is called with the number of current reads so far, starting at 1.
	Current func(n int) string

	volts   float64
	program string
	running bool
	reads   int
	errs    []string
}

// NewMockSupply returns a MockSupply into a load of ohms
func NewMockSupply(ohms float64) *MockSupply {
	return &MockSupply{Ohms: ohms}
}

// Manager returns a comm.MockManager whose resource is this supply
func (ms *MockSupply) Manager() *comm.MockManager {
	return comm.NewMockManager(&comm.MockResource{Respond: ms.Respond})
}

// Volts returns the programmed voltage
func (ms *MockSupply) Volts() float64 {
	ms.Lock()
	defer ms.Unlock()
	return ms.volts
}

// Program returns the loaded program name and whether it is running
func (ms *MockSupply) Program() (string, bool) {
	ms.Lock()
	defer ms.Unlock()
	return ms.program, ms.running
}

func frame(s string) string {
	return "\x13\x11" + s + "\r\n"
}

// Respond handles one command line and returns the raw reply
func (ms *MockSupply) Respond(line string) (string, error) {
	ms.Lock()
	defer ms.Unlock()
	head, arg := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		head, arg = line[:i], strings.TrimSpace(line[i+1:])
	}
	switch strings.ToUpper(head) {
	case "VOLT":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			ms.errs = append(ms.errs, `-104,"Data type error"`)
			return "", nil
		}
		ms.volts = v
	case "PROG:NAME":
		ms.program = strings.Trim(arg, `"`)
	case "PROG:EXEC:STAT":
		ms.running = strings.EqualFold(arg, "RUN")
	case "READ:VOLT?", "FETC:VOLT?":
		return frame(fmt.Sprintf("%.3f", ms.volts)), nil
	case "READ:CURR?", "FETC:CURR?":
		ms.reads++
		if ms.Current != nil {
			return frame(ms.Current(ms.reads)), nil
		}
		i := 0.
		if ms.Ohms > 0 {
			i = ms.volts / ms.Ohms
		}
		return frame(fmt.Sprintf("%.4f", i)), nil
	case "SYST:ERR?":
		if len(ms.errs) == 0 {
			return frame(`0,"No error"`), nil
		}
		e := ms.errs[0]
		ms.errs = ms.errs[1:]
		return frame(e), nil
	case "*IDN?":
		return frame("KIKUSUI,MOCK,00000000,1.00"), nil
	default:
		ms.errs = append(ms.errs, `-113,"Undefined header"`)
	}
	return "", nil
}
