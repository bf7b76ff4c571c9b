//go:build !windows

package comm

import (
	"fmt"
	"path/filepath"
	"sort"
)

var serialGlobs = []string{
	"/dev/ttyS*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/tty.usbserial*",
	"/dev/cu.usbserial*",
}

// defaultDevice maps COM1 to /dev/ttyS0, COM2 to /dev/ttyS1, ...
func defaultDevice(port int) string {
	return fmt.Sprintf("/dev/ttyS%d", port-1)
}

func listSerialPorts() ([]string, error) {
	var ports []string
	for _, g := range serialGlobs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return nil, err
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports, nil
}
