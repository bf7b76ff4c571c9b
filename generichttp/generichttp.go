// Package generichttp defines the route table used to expose instruments over
// HTTP, and handler generators that turn comm.Result-returning methods into
// JSON endpoints
package generichttp

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"

	"github.com/benchlab/golab/comm"
)

// MethodPath is an HTTP method and a route pattern, e.g. GET /voltage
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method+path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in the table as "METHOD /path", sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind binds every route in the table to r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
}

// HTTPer is anything with a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize converts a URL like omc/nkt/ into /omc/nkt, suitable for chi's Mount
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(str, "*")
	str = strings.Trim(str, "/")
	return "/" + str
}

// FloatT is the JSON payload {"f64": value}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// StrT is the JSON payload {"str": value}
type StrT struct {
	Str string `json:"str"`
}

// BoolT is the JSON payload {"bool": value}
type BoolT struct {
	Bool bool `json:"bool"`
}

// StatusCode maps a Result status to an HTTP status code
func StatusCode(s comm.Status) int {
	switch s {
	case comm.StatusPass:
		return http.StatusOK
	case comm.StatusFail:
		return http.StatusUnprocessableEntity
	case comm.StatusPortNotFound:
		return http.StatusNotFound
	case comm.StatusInvalidParameter:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// EncodeAndRespond writes v as JSON with the given status code
func EncodeAndRespond(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// RespondResult writes a Result as JSON {"status": ..., "payload": ...}
func RespondResult(w http.ResponseWriter, res comm.Result) {
	EncodeAndRespond(w, StatusCode(res.Status), res)
}

// GetResult calls a Result-returning function and responds with it
func GetResult(fcn func() comm.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondResult(w, fcn())
	}
}

// SetFloat parses a JSON input of {"f64": value} and
// calls fcn with it
func SetFloat(fcn func(float64) comm.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			RespondResult(w, comm.Result{Status: comm.StatusInvalidParameter, Payload: err.Error()})
			return
		}
		RespondResult(w, fcn(f.F64))
	}
}

// SetString parses a JSON input of {"str": value} and
// calls fcn with it
func SetString(fcn func(string) comm.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			RespondResult(w, comm.Result{Status: comm.StatusInvalidParameter, Payload: err.Error()})
			return
		}
		RespondResult(w, fcn(s.Str))
	}
}
