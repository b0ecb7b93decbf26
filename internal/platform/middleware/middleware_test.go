package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}
	_ = RequestID()(handler)(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-1")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	if err := Logger(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-1"`) || !strings.Contains(out, `"status":200`) {
		t.Errorf("unexpected log line: %s", out)
	}
}

func TestLogger_KeepsHTTPError(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), httptest.NewRecorder())

	want := echo.NewHTTPError(http.StatusNotFound, "patient not found")
	err := Logger(zerolog.New(&buf))(func(echo.Context) error { return want })(c)
	if err != want {
		t.Fatalf("expected the handler error to be returned unchanged, got %v", err)
	}
	if !strings.Contains(buf.String(), `"status":404`) || !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("unexpected log line: %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())
	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudit_RecordsEntry(t *testing.T) {
	e := echo.New()
	pid := "2f1c7c4e-7d4a-4d7e-9f5c-6b1f0a9d3e21"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient/"+pid, nil)
	req = req.WithContext(auth.WithUser(req.Context(), "clerk", []string{"Clerk"}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")

	var got AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		got = entry
		return nil
	})
	err := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.UserID != "clerk" || got.Entity != "patient" || got.EntityID != pid || got.PatientID != pid {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.Action != "read" || got.RequestID != "req-123" || got.StatusCode != http.StatusOK {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	called := false
	recorder := AuditRecorderFunc(func(AuditEntry) error { called = true; return nil })
	_ = Audit(zerolog.Nop(), recorder)(func(c echo.Context) error { return nil })(c)
	if called {
		t.Error("health checks must not be audited")
	}
}

func TestAction(t *testing.T) {
	cases := []struct {
		method, id string
		query      bool
		want       string
	}{
		{http.MethodGet, "", false, "search"},
		{http.MethodGet, "x", false, "read"},
		{http.MethodGet, "x", true, "search"},
		{http.MethodPost, "", false, "create"},
		{http.MethodPut, "x", false, "update"},
		{http.MethodDelete, "x", false, "delete"},
	}
	for _, tc := range cases {
		if got := action(tc.method, tc.id, tc.query); got != tc.want {
			t.Errorf("action(%s,%q,%v) = %s, want %s", tc.method, tc.id, tc.query, got, tc.want)
		}
	}
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, nil))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("other clients have their own budget, got %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = SecurityHeaders()(func(c echo.Context) error { return nil })(c)
	if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers: %v", rec.Header())
	}
}

func TestSecurityHeaders_StorageFraming(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/storage/report.pdf", nil), rec)
	_ = SecurityHeaders()(func(c echo.Context) error { return nil })(c)
	if got := rec.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Errorf("expected SAMEORIGIN for attachments, got %q", got)
	}
}
