package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.com/benchlab/golab/generichttp"
	"github.com/benchlab/golab/server/middleware/locker"
)

func TestTryLock(t *testing.T) {
	l := locker.New()
	assert.True(t, l.TryLock())
	assert.False(t, l.TryLock())
	assert.True(t, l.Locked())
	l.Unlock()
	assert.False(t, l.Locked())
	assert.True(t, l.TryLock())
}

func TestCheck(t *testing.T) {
	l := locker.New()
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/current"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.Bind(r)

	call := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}

	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/current", "").Code)
	assert.Equal(t, http.StatusOK, call(http.MethodPost, "/lock", `{"bool": true}`).Code)
	assert.Equal(t, http.StatusLocked, call(http.MethodGet, "/current", "").Code)

	w := call(http.MethodGet, "/lock", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"bool": true}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, call(http.MethodPost, "/lock", `{`).Code)
	assert.Equal(t, http.StatusOK, call(http.MethodPost, "/lock", `{"bool": false}`).Code)
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/current", "").Code)
}

func TestHeldLockIgnoresHTTPUnlock(t *testing.T) {
	l := locker.New()
	assert.True(t, l.TryHold())
	assert.False(t, l.TryHold())
	assert.False(t, l.TryLock())

	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": false}`)))
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.True(t, l.Locked())

	l.Unlock()
	assert.True(t, l.Locked())

	l.Release()
	assert.False(t, l.Locked())
	assert.False(t, l.Held())
	assert.True(t, l.TryLock())
	assert.False(t, l.TryHold())
}
