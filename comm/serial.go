package comm

import (
	"fmt"
	"os"
	"time"

	"github.com/tarm/serial"
)

const (
	defaultBaud        = 19200
	defaultReadTimeout = 2 * time.Second
)

// SerialOptions configures the RS-232 link.  Zero values select 19200 8N1
// and a two second read timeout.
type SerialOptions struct {
	Baud        int
	ReadTimeout time.Duration

	// Devices overrides the platform device used for a port number,
	// e.g. {3: "/dev/ttyUSB0"}
	Devices map[int]string
}

// SerialManager is a ResourceManager for serial ports
type SerialManager struct {
	opts SerialOptions
}

// NewSerialManager returns a ManagerFunc which yields SerialManagers
func NewSerialManager(opts SerialOptions) ManagerFunc {
	if opts.Baud == 0 {
		opts.Baud = defaultBaud
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	return func() (ResourceManager, error) {
		return &SerialManager{opts: opts}, nil
	}
}

// ListResources lists the serial ports the platform knows about.
// Overridden devices that exist on disk are included.
func (m *SerialManager) ListResources() ([]string, error) {
	ports, err := listSerialPorts()
	if err != nil {
		return nil, err
	}
	for _, dev := range m.opts.Devices {
		if _, err := os.Stat(dev); err == nil {
			ports = append(ports, dev)
		}
	}
	return ports, nil
}

// Device returns the platform device name for a port number
func (m *SerialManager) Device(port int) string {
	if dev, ok := m.opts.Devices[port]; ok {
		return dev
	}
	return defaultDevice(port)
}

// OpenResource opens the serial port behind an ASRL<N>::INSTR address
func (m *SerialManager) OpenResource(addr string) (Resource, error) {
	n, err := ParseResourceAddress(addr)
	if err != nil {
		return nil, err
	}
	conf := &serial.Config{
		Name:        m.Device(n),
		Baud:        m.opts.Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: m.opts.ReadTimeout}
	port, err := serial.OpenPort(conf)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", conf.Name, err)
	}
	return port, nil
}

// Close releases the manager.  Serial managers hold no handles of their own.
func (m *SerialManager) Close() error {
	return nil
}
