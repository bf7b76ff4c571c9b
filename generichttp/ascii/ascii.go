// Package ascii contains some injectable HTTP interfaces to ASCII hardware
package ascii

import (
	"net/http"

	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/generichttp"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) comm.Result
}

// RawFunc adapts a function to a RawCommunicator
type RawFunc func(string) comm.Result

// Raw calls f
func (f RawFunc) Raw(s string) comm.Result {
	return f(s)
}

// RawWrapper is a wrapper around a raw communicator
type RawWrapper struct {
	Comm RawCommunicator
}

// HTTPRaw takes {"str": "*IDN?"} and responds with the Result of sending it
func (rw RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	generichttp.SetString(rw.Comm.Raw)(w, r)
}

// InjectRawComm injects a /raw POST route into a route table
func InjectRawComm(rt generichttp.RouteTable, raw RawCommunicator) {
	wrap := RawWrapper{Comm: raw}
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
