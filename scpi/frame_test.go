package scpi_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/benchlab/golab/scpi"
	"github.com/stretchr/testify/assert"
)

func ExampleExtractPayload() {
	fmt.Printf("%q\n", scpi.ExtractPayload("\x13\x111.002\r\n"))
	// Output: "1.002"
}

func TestExtractPayloadFraming(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"empty", "", ""},
		{"both markers", "\x13\x111.500\r\n", "1.500"},
		{"start only", "\x13\x111.500", "1.500"},
		{"terminator only", "1.500\r\n", "1.500"},
		{"neither", "1.500", "1.500"},
		{"bare start marker", "\x13\x11", ""},
		{"bare terminator", "\r\n", ""},
		{"marker not at front", "junk\x13\x1112.0\r\n", "12.0"},
		{"trailing garbage", "\x13\x110.25\r\n\x13\x11", "0.25"},
		{"terminator before marker", "\r\n\x13\x113.3\r\n", "3.3"},
		{"stray flow control", "\x131\x11.0\r\n", "1.0"},
		{"lf only", "1.0\n", "1.0"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, scpi.ExtractPayload(c.in))
		})
	}
}

func TestExtractPayloadNeverLeaksMarkers(t *testing.T) {
	alphabet := []string{"\x13", "\x11", "\r", "\n", "1", ".", "\x13\x11", "\r\n"}
	// every string of up to four pieces drawn from the alphabet
	var walk func(prefix string, depth int)
	walk = func(prefix string, depth int) {
		out := scpi.ExtractPayload(prefix)
		if strings.Contains(out, scpi.StartMarker) || strings.Contains(out, scpi.Terminator) {
			t.Errorf("payload of %q leaked framing: %q", prefix, out)
		}
		if depth == 0 {
			return
		}
		for _, a := range alphabet {
			walk(prefix+a, depth-1)
		}
	}
	walk("", 4)
}
