package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://itl.example.com", want: "wss://itl.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func newMemoryApp(t *testing.T) *App {
	t.Helper()

	cfg := Config{
		HTTPAddr:    "127.0.0.1:0",
		LogFormat:   "json",
		DBSchema:    "itl",
		ServiceName: "itl-test",
	}
	a, err := New(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.release(context.Background()) })
	return a
}

func TestApp_OperationalRoutes(t *testing.T) {
	a := newMemoryApp(t)
	h := a.Handler()

	cases := []struct {
		path     string
		want     int
		contains string
	}{
		{path: "/healthz", want: http.StatusOK, contains: "ok"},
		{path: "/readyz", want: http.StatusOK, contains: "ready"},
		{path: "/metrics", want: http.StatusOK, contains: "itl_http_requests_total"},
		{path: "/no/such/route", want: http.StatusNotFound, contains: `"error"`},
	}

	// One request first so the http counter has a sample to export.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.want {
			t.Fatalf("GET %s status=%d want=%d body=%s", tc.path, rr.Code, tc.want, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), tc.contains) {
			t.Fatalf("GET %s body missing %q: %s", tc.path, tc.contains, rr.Body.String())
		}
		if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("GET %s missing security headers", tc.path)
		}
	}
}

func TestApp_WrongMethodIsNotFound(t *testing.T) {
	a := newMemoryApp(t)
	h := a.Handler()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/healthz"},
		{http.MethodGet, "/me/restore"},
		{http.MethodPost, "/me/private"},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), `"not_found"`) {
			t.Fatalf("%s %s: status=%d body=%s; want JSON 404", tc.method, tc.path, rr.Code, rr.Body.String())
		}
	}
}

func TestApp_RestoreThroughFullChain(t *testing.T) {
	a := newMemoryApp(t)

	req := httptest.NewRequest(http.MethodPost, "/me/restore", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("restore status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"setCookie"`) {
		t.Fatalf("restore body missing setCookie: %s", rr.Body.String())
	}
}

func TestApp_ReadyzRequiresDB(t *testing.T) {
	a := newMemoryApp(t)
	a.cfg.ReadinessRequireDB = true

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a database, got %d", rr.Code)
	}
}
