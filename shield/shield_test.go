package shield

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/figbridge/kit"
)

func stack(h http.Handler) http.Handler {
	mws := DefaultBridgeStack(nil, 8)
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	// WHAT: An OPTIONS preflight gets 204 without reaching the handler.
	// WHY: Browsers never send the Authorization header on preflight.
	reached := false
	h := stack(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs/next", nil)
	req.Header.Set("Origin", "null")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent || reached {
		t.Fatalf("code=%d reached=%v", rec.Code, reached)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Errorf("allow headers = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow origin")
	}
}

func TestSecurityHeadersAndTrace(t *testing.T) {
	var traceInCtx string
	h := stack(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceInCtx = kit.GetTraceID(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("no logger")
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("missing no-store")
	}
	tid := rec.Header().Get("X-Trace-ID")
	if !strings.HasPrefix(tid, "trc_") || tid != traceInCtx {
		t.Errorf("trace header %q, ctx %q", tid, traceInCtx)
	}
}

func TestTraceID_KeepsSafeIncomingID(t *testing.T) {
	h := stack(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "plugin-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Trace-ID") != "plugin-42" {
		t.Errorf("got %q", rec.Header().Get("X-Trace-ID"))
	}

	req.Header.Set("X-Trace-ID", "bad id\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Trace-ID") == "bad id\n" {
		t.Error("unsafe trace id must be replaced")
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := stack(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) || mbe.Limit != 8 {
		t.Fatalf("expected MaxBytesError, got %v", readErr)
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { method = r.Method }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/health", nil))
	if method != http.MethodGet {
		t.Errorf("method = %s", method)
	}
}
