package comm

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// MockResource is an in-memory Resource.  Every line written to it is
// recorded, and if Respond is set its return is queued for the next Read.
type MockResource struct {
	sync.Mutex

	// Respond produces the raw reply to one written line, terminator stripped.
	// A returned error is delivered by the next Read.
	Respond func(line string) (string, error)

	// WriteErr, ReadErr, and CloseErr are returned by the matching method when set
	WriteErr error
	ReadErr  error
	CloseErr error

	written []string
	pending bytes.Buffer
	nextErr error
	closes  int
}

// Write satisfies io.Writer
func (m *MockResource) Write(b []byte) (int, error) {
	m.Lock()
	defer m.Unlock()
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	for _, line := range strings.SplitAfter(string(b), "\n") {
		if line == "" {
			continue
		}
		line = strings.TrimRight(line, "\r\n")
		m.written = append(m.written, line)
		if m.Respond != nil {
			resp, err := m.Respond(line)
			if err != nil {
				m.nextErr = err
				continue
			}
			m.pending.WriteString(resp)
		}
	}
	return len(b), nil
}

// Read satisfies io.Reader.  It returns io.EOF when nothing is queued,
// the way a serial port does when its read timeout expires.
func (m *MockResource) Read(b []byte) (int, error) {
	m.Lock()
	defer m.Unlock()
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	if m.nextErr != nil {
		err := m.nextErr
		m.nextErr = nil
		return 0, err
	}
	if m.pending.Len() == 0 {
		return 0, io.EOF
	}
	return m.pending.Read(b)
}

// Close satisfies io.Closer
func (m *MockResource) Close() error {
	m.Lock()
	defer m.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.closes++
	return nil
}

// Written returns a copy of every line written so far
func (m *MockResource) Written() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.written...)
}

// Closes returns the number of successful Close calls
func (m *MockResource) Closes() int {
	m.Lock()
	defer m.Unlock()
	return m.closes
}

// MockManager is a ResourceManager that hands out a single MockResource
type MockManager struct {
	sync.Mutex

	// Resources is what ListResources reports
	Resources []string

	// Resource is returned by every successful OpenResource
	Resource *MockResource

	ListErr  error
	OpenErr  error
	CloseErr error

	opens  int
	closes int
	addrs  []string
}

// NewMockManager returns a MockManager listing one resource
func NewMockManager(res *MockResource) *MockManager {
	if res == nil {
		res = &MockResource{}
	}
	return &MockManager{Resources: []string{"ASRL1::INSTR"}, Resource: res}
}

// Func returns a ManagerFunc that always yields m
func (m *MockManager) Func() ManagerFunc {
	return func() (ResourceManager, error) {
		return m, nil
	}
}

// ListResources satisfies ResourceManager
func (m *MockManager) ListResources() ([]string, error) {
	m.Lock()
	defer m.Unlock()
	return m.Resources, m.ListErr
}

// OpenResource satisfies ResourceManager
func (m *MockManager) OpenResource(addr string) (Resource, error) {
	m.Lock()
	defer m.Unlock()
	m.opens++
	m.addrs = append(m.addrs, addr)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return m.Resource, nil
}

// Close satisfies io.Closer
func (m *MockManager) Close() error {
	m.Lock()
	defer m.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.closes++
	return nil
}

// Opens returns the number of OpenResource calls
func (m *MockManager) Opens() int {
	m.Lock()
	defer m.Unlock()
	return m.opens
}

// Closes returns the number of successful Close calls
func (m *MockManager) Closes() int {
	m.Lock()
	defer m.Unlock()
	return m.closes
}

// Addrs returns every address passed to OpenResource
func (m *MockManager) Addrs() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.addrs...)
}
