package kikusui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/benchlab/golab/comm"
	"github.com/benchlab/golab/generichttp"
	"github.com/benchlab/golab/generichttp/ascii"
	"github.com/benchlab/golab/server/middleware/locker"
)

// HTTPWrapper provides HTTP bindings on top of a PowerSupply and a Monitor.
// Requests are serialized; while a compliance run is in progress the
// locker refuses everything else with 423.
type HTTPWrapper struct {
	PSU  *PowerSupply
	Mon  *Monitor
	Lock *locker.Locker

	mu sync.Mutex

	// RouteTable maps method+path pairs to http handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(ps *PowerSupply, mon *Monitor) *HTTPWrapper {
	h := &HTTPWrapper{PSU: ps, Mon: mon, Lock: locker.New()}
	get := func(p string) generichttp.MethodPath { return generichttp.MethodPath{Method: http.MethodGet, Path: p} }
	post := func(p string) generichttp.MethodPath { return generichttp.MethodPath{Method: http.MethodPost, Path: p} }
	rt := generichttp.RouteTable{
		post("/open"):            generichttp.GetResult(h.serial(ps.Open)),
		post("/close"):           generichttp.GetResult(h.serial(ps.Close)),
		post("/voltage"):         generichttp.SetFloat(h.serialFloat(ps.SetVoltage)),
		get("/voltage"):          generichttp.GetResult(h.serial(ps.ReadVoltage)),
		get("/voltage/fetch"):    generichttp.GetResult(h.serial(ps.FetchVoltage)),
		get("/current"):          generichttp.GetResult(h.serial(ps.ReadCurrent)),
		get("/current/fetch"):    generichttp.GetResult(h.serial(ps.FetchCurrent)),
		post("/program"):         generichttp.SetString(h.serialString(ps.LoadProgram)),
		post("/program/run"):     generichttp.GetResult(h.serial(ps.RunProgram)),
		post("/program/stop"):    generichttp.GetResult(h.serial(ps.StopProgram)),
		get("/errors"):           generichttp.GetResult(h.serial(ps.Errors)),
		post("/compliance"):      h.Compliance,
		get("/compliance/check"): h.ComplianceQuery,
	}
	ascii.InjectRawComm(rt, ascii.RawFunc(h.serialString(ps.Raw)))
	locker.Inject(rt, h.Lock)
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h *HTTPWrapper) serial(fcn func() comm.Result) func() comm.Result {
	return func() comm.Result {
		h.mu.Lock()
		defer h.mu.Unlock()
		return fcn()
	}
}

func (h *HTTPWrapper) serialFloat(fcn func(float64) comm.Result) func(float64) comm.Result {
	return func(f float64) comm.Result {
		h.mu.Lock()
		defer h.mu.Unlock()
		return fcn(f)
	}
}

func (h *HTTPWrapper) serialString(fcn func(string) comm.Result) func(string) comm.Result {
	return func(s string) comm.Result {
		h.mu.Lock()
		defer h.mu.Unlock()
		return fcn(s)
	}
}

// ComplianceRequest is the body of POST /compliance.  Each field may be
// a JSON number or a string.
type ComplianceRequest struct {
	Lower      interface{} `json:"lower"`
	Upper      interface{} `json:"upper"`
	DurationMs interface{} `json:"durationms"`
}

// VerdictResponse is the JSON form of a Verdict
type VerdictResponse struct {
	comm.Result
	Samples     int     `json:"samples"`
	Consecutive int     `json:"consecutive"`
	Last        float64 `json:"last"`
	ElapsedMs   int64   `json:"elapsedms"`
}

func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Compliance runs a current compliance check described by a ComplianceRequest
// and responds with the verdict.  The request blocks for the length of the run.
func (h *HTTPWrapper) Compliance(w http.ResponseWriter, r *http.Request) {
	req := ComplianceRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		generichttp.RespondResult(w, comm.Result{Status: comm.StatusError, Payload: err.Error()})
		return
	}
	h.runCompliance(w, r, text(req.Lower), text(req.Upper), text(req.DurationMs))
}

// ComplianceQuery is Compliance with the window in the query string,
// ?lower=0.9&upper=1.1&durationms=5000
func (h *HTTPWrapper) ComplianceQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.runCompliance(w, r, q.Get("lower"), q.Get("upper"), q.Get("durationms"))
}

func (h *HTTPWrapper) runCompliance(w http.ResponseWriter, r *http.Request, lower, upper, ms string) {
	if !h.Lock.TryHold() {
		w.WriteHeader(http.StatusLocked)
		return
	}
	defer h.Lock.Release()
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.Mon.CheckCurrentInRangeText(r.Context(), lower, upper, ms)
	resp := VerdictResponse{
		Result:      v.Result(),
		Samples:     v.Samples,
		Consecutive: v.Consecutive,
		Last:        v.Last,
		ElapsedMs:   v.Elapsed.Milliseconds()}
	generichttp.EncodeAndRespond(w, generichttp.StatusCode(v.Status), resp)
}
