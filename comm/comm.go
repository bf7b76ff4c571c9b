/*Package comm provides the transport session used to talk to bench hardware.

Most usages of this package will boil down to:
	1.  create a Session from a configured port label like "COM3"
	2.  Open it, which resolves the label to a VISA-style ASRL<N>::INSTR address,
		checks that the platform has any resources at all, and opens the port
	3.  hand it to a command layer (see package scpi) which owns Write and Read
	4.  Close it when done; Open and Close are both idempotent

Every public operation returns a Result instead of an error, so a caller
deciding what to do next branches on Result.Status.

	s := comm.NewSession("COM3", comm.NewSerialManager(comm.SerialOptions{}), nil)
	if res := s.Open(); !res.OK() {
		log.Fatal(res)
	}
	defer s.Close()

A Session is not safe for concurrent use and must not be copied.
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is generated when Write or Read is called on a closed Session
	ErrNotConnected = errors.New("not connected")

	// ErrNoResources is generated when the resource manager lists nothing
	ErrNoResources = errors.New("no transport resources exist")

	// ErrNoSuchResource is generated when an address does not map to a device
	ErrNoSuchResource = errors.New("no such resource")

	// ErrNoResponse is generated when a read times out without any data
	ErrNoResponse = errors.New("no response before read timeout")
)

// Resource is an open instrument handle
type Resource interface {
	io.ReadWriteCloser
}

// ResourceManager lists and opens Resources.  It is created on Open and
// released on Close, after the Resource it opened.
type ResourceManager interface {
	// ListResources returns the platform names of every resource the manager can see
	ListResources() ([]string, error)

	// OpenResource opens the resource at a VISA-style address such as ASRL3::INSTR
	OpenResource(addr string) (Resource, error)

	io.Closer
}

// ManagerFunc creates a new ResourceManager.  A closure should be used to
// encapsulate any configuration it needs.
type ManagerFunc func() (ResourceManager, error)

// noCopy may be embedded into structs which must not be copied
// after first use; go vet's copylocks check reports violations.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Session owns exactly one instrument resource.
//
// The resource handle is non-nil if and only if the session is connected.
// Sessions must be created with NewSession and used through the pointer.
type Session struct {
	noCopy noCopy

	// OpenTimeout bounds the exponential backoff used when opening the
	// resource.  Zero means a single attempt.
	OpenTimeout time.Duration

	label      string
	port       int
	newManager ManagerFunc
	log        logrus.FieldLogger

	mgr       ResourceManager
	res       Resource
	rd        *bufio.Reader
	connected bool
}

// NewSession creates a new Session for the port label, e.g. "COM3".
// The label is not resolved until the first Open.
// If log is nil, the logrus standard logger is used.
func NewSession(label string, mk ManagerFunc, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		label:      label,
		newManager: mk,
		log:        log.WithField("port", label)}
}

// Label returns the port label the Session was created with
func (s *Session) Label() string {
	return s.label
}

// Port returns the numeric port index, or zero if it has not been resolved yet
func (s *Session) Port() int {
	return s.port
}

// Connected is true while the Session holds an open resource
func (s *Session) Connected() bool {
	return s.connected
}

// Open connects to the instrument.  It is a no-op if already connected.
func (s *Session) Open() Result {
	if s.connected {
		s.log.Debug("already connected")
		return Pass("")
	}
	if s.port == 0 {
		n, err := PortIndex(s.label)
		if err != nil {
			return s.report("open", Result{Status: StatusInvalidParameter, Payload: err.Error()})
		}
		s.port = n
	}
	if s.mgr != nil {
		// left over from a Close that could not release it
		if err := s.mgr.Close(); err != nil {
			return s.report("open", Error(err))
		}
		s.mgr = nil
	}
	if s.newManager == nil {
		return s.report("open", Result{Status: StatusInvalidParameter, Payload: "no resource manager configured"})
	}
	mgr, err := s.newManager()
	if err != nil {
		return s.report("open", Result{Status: StatusInvalidParameter, Payload: err.Error()})
	}
	list, err := mgr.ListResources()
	if err != nil {
		mgr.Close()
		return s.report("open", Result{Status: StatusInvalidParameter, Payload: err.Error()})
	}
	if len(list) == 0 {
		mgr.Close()
		return s.report("open", Result{Status: StatusPortNotFound, Payload: ErrNoResources.Error()})
	}

	addr := ResourceAddress(s.port)
	var res Resource
	op := func() error {
		r, err := mgr.OpenResource(addr)
		if err != nil {
			if errors.Is(err, ErrNoSuchResource) || errors.Is(err, fs.ErrNotExist) {
				return backoff.Permanent(err)
			}
			s.log.WithError(err).Debug("open attempt failed")
			return err
		}
		res = r
		return nil
	}
	err = backoff.Retry(op, s.backoff())
	if err != nil {
		mgr.Close()
		return s.report("open", Result{Status: StatusInvalidParameter, Payload: fmt.Sprintf("%s: %s", addr, err)})
	}
	s.mgr = mgr
	s.res = res
	s.rd = bufio.NewReader(res)
	s.connected = true
	return s.report("open", Pass(addr))
}

func (s *Session) backoff() backoff.BackOff {
	if s.OpenTimeout <= 0 {
		return &backoff.StopBackOff{}
	}
	// the same shape the lab's network devices use; serial adapters
	// that were just re-plugged need a moment before they enumerate
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      s.OpenTimeout,
		Clock:               backoff.SystemClock}
}

// Close releases the resource, then the resource manager.
// It is a no-op if nothing is held.  The Session is disconnected as soon as
// the resource is released; a manager that failed to close is kept so a
// later Close (or Open) can release it.
func (s *Session) Close() Result {
	if !s.connected && s.mgr == nil {
		s.log.Debug("already disconnected")
		return Pass("")
	}
	if s.res != nil {
		if err := s.res.Close(); err != nil {
			return s.report("close", Error(err))
		}
		s.res = nil
		s.rd = nil
	}
	s.connected = false
	if s.mgr != nil {
		if err := s.mgr.Close(); err != nil {
			return s.report("close", Error(err))
		}
		s.mgr = nil
	}
	return s.report("close", Pass(""))
}

// Write sends text to the instrument verbatim; no terminator is added
func (s *Session) Write(text string) error {
	if !s.connected || s.res == nil {
		return ErrNotConnected
	}
	_, err := io.WriteString(s.res, text)
	return err
}

// Read returns one line from the instrument, including the trailing newline.
// If the read times out after some data arrived, the partial line is returned
// without error.
func (s *Session) Read() (string, error) {
	if !s.connected || s.rd == nil {
		return "", ErrNotConnected
	}
	line, err := s.rd.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return line, nil
			}
			return "", ErrNoResponse
		}
		return line, err
	}
	return line, nil
}

func (s *Session) report(op string, r Result) Result {
	entry := s.log.WithFields(logrus.Fields{"op": op, "status": r.Status.String()})
	switch r.Status {
	case StatusPass:
		entry.Debug(r.Payload)
	default:
		entry.Warn(r.Payload)
	}
	return r
}
