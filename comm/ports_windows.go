//go:build windows

package comm

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sys/windows/registry"
)

func defaultDevice(port int) string {
	return fmt.Sprintf("COM%d", port)
}

// listSerialPorts reads the SERIALCOMM device map, which is what the
// device manager shows under "Ports (COM & LPT)"
func listSerialPorts() ([]string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `HARDWARE\DEVICEMAP\SERIALCOMM`, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil, nil // no serial hardware has ever been attached
		}
		return nil, err
	}
	defer k.Close()
	names, err := k.ReadValueNames(0)
	if err != nil {
		return nil, err
	}
	ports := make([]string, 0, len(names))
	for _, name := range names {
		v, _, err := k.GetStringValue(name)
		if err != nil {
			continue
		}
		ports = append(ports, v)
	}
	sort.Strings(ports)
	return ports, nil
}
