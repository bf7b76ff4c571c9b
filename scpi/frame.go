package scpi

import "strings"

const (
	// StartMarker is the DC3 DC1 (XOFF XON) pair the supply's flow control
	// leaves in front of a response when software handshaking is on
	StartMarker = "\x13\x11"

	// Terminator ends every response line
	Terminator = "\r\n"
)

// ExtractPayload strips framing from one raw read.  Either marker may be
// missing; an empty read yields "".  The result never contains DC1 or DC3,
// and a bare trailing LF (supplies configured for LF-only termination) is
// dropped as well.
func ExtractPayload(raw string) string {
	s := raw
	if l := strings.Index(s, StartMarker); l >= 0 {
		s = s[l+len(StartMarker):]
	}
	s = strings.Map(dropFlowControl, s)
	if r := strings.Index(s, Terminator); r >= 0 {
		s = s[:r]
	}
	return strings.TrimRight(s, "\r\n")
}

func dropFlowControl(r rune) rune {
	if r == '\x11' || r == '\x13' {
		return -1
	}
	return r
}
