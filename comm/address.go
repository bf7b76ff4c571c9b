package comm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// portPrefixLen is the length of the "COM" style prefix stripped from a port label
const portPrefixLen = 3

// ErrBadPortLabel is generated when a port label does not end in a positive integer
var ErrBadPortLabel = errors.New("port label must look like COM<N> with N > 0")

// PortIndex strips the three character prefix from a label like COM7 and
// returns the port number, 7.
func PortIndex(label string) (int, error) {
	label = strings.TrimSpace(label)
	if len(label) <= portPrefixLen {
		return 0, fmt.Errorf("%w: %q", ErrBadPortLabel, label)
	}
	n, err := strconv.Atoi(label[portPrefixLen:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadPortLabel, label)
	}
	return n, nil
}

// ResourceAddress formats a port number as a VISA serial instrument address
func ResourceAddress(port int) string {
	return fmt.Sprintf("ASRL%d::INSTR", port)
}

// ParseResourceAddress is the inverse of ResourceAddress
func ParseResourceAddress(addr string) (int, error) {
	up := strings.ToUpper(addr)
	if !strings.HasPrefix(up, "ASRL") || !strings.HasSuffix(up, "::INSTR") {
		return 0, fmt.Errorf("%w: %q is not an ASRL address", ErrNoSuchResource, addr)
	}
	n, err := strconv.Atoi(up[4 : len(up)-len("::INSTR")])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q is not an ASRL address", ErrNoSuchResource, addr)
	}
	return n, nil
}
