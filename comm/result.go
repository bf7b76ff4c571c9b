package comm

import (
	"errors"
	"strconv"
	"strings"
)

// Status is the outcome tag carried by every Result.
// It is a closed set; callers branch on it, never on Result.Payload.
type Status int

const (
	// StatusPass means the operation did what was asked
	StatusPass Status = iota

	// StatusFail means the operation ran but the measured quantity was out of tolerance
	StatusFail

	// StatusError means something went wrong talking to the hardware, or the input was bad
	StatusError

	// StatusPortNotFound means no transport resources exist at all
	StatusPortNotFound

	// StatusInvalidParameter means the resource could not be resolved or opened
	StatusInvalidParameter
)

var statusNames = [...]string{
	StatusPass:             "pass",
	StatusFail:             "fail",
	StatusError:            "error",
	StatusPortNotFound:     "PortNotFound",
	StatusInvalidParameter: "InvalidParameter",
}

// String satisfies fmt.Stringer and yields the wire tag, e.g. "PortNotFound"
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}

// MarshalText satisfies encoding.TextMarshaler so a Status encodes as its tag
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler
func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStatus converts a tag back to a Status.  It is case insensitive.
func ParseStatus(tag string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, tag) {
			return Status(i), nil
		}
	}
	return StatusError, errors.New("unknown status tag " + strconv.Quote(tag))
}

// Result is the uniform (status, payload) pair returned by every operation
// in this module.  Payload holds the response text, a diagnostic message,
// or the empty string.
type Result struct {
	Status  Status `json:"status"`
	Payload string `json:"payload"`
}

// Pass returns a passing Result with the given payload
func Pass(payload string) Result {
	return Result{Status: StatusPass, Payload: payload}
}

// Fail returns a failing Result with the given message
func Fail(msg string) Result {
	return Result{Status: StatusFail, Payload: msg}
}

// Error returns an error Result carrying err's text.  A nil err yields
// an error Result with an empty payload.
func Error(err error) Result {
	if err == nil {
		return Result{Status: StatusError}
	}
	return Result{Status: StatusError, Payload: err.Error()}
}

// OK is true if the Result has StatusPass
func (r Result) OK() bool {
	return r.Status == StatusPass
}

// Err converts a non-passing Result into an error, and a passing one into nil
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	if r.Payload == "" {
		return &ResultError{Status: r.Status}
	}
	return &ResultError{Status: r.Status, Msg: r.Payload}
}

// Float parses the payload as a float64
func (r Result) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(r.Payload), 64)
}

// String renders the Result as "status: payload"
func (r Result) String() string {
	if r.Payload == "" {
		return r.Status.String()
	}
	return r.Status.String() + ": " + r.Payload
}

// ResultError is the error form of a non-passing Result
type ResultError struct {
	Status Status
	Msg    string
}

// Error satisfies stdlib error interface
func (e *ResultError) Error() string {
	if e.Msg == "" {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Msg
}
