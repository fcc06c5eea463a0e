package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMiddlewareCountsRequests(t *testing.T) {
	reg := New()
	e := echo.New()

	h := reg.Middleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/records")
	if err := h(c); err != nil {
		t.Fatal(err)
	}

	expo := httptest.NewRecorder()
	ec := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), expo)
	if err := reg.Handler()(ec); err != nil {
		t.Fatal(err)
	}
	body := expo.Body.String()
	if !strings.Contains(body, `http_requests_total{method="GET",path="/api/v1/records",status="200"} 1`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
	if !strings.Contains(body, "http_request_duration_seconds_bucket") {
		t.Fatal("duration histogram missing")
	}
}

func TestDomainCounters(t *testing.T) {
	reg := New()
	reg.LoginsTotal.WithLabelValues("success").Inc()
	reg.LoginsTotal.WithLabelValues("failure").Inc()
	reg.LoginsTotal.WithLabelValues("failure").Inc()
	reg.AuditEntriesTotal.Inc()
	reg.SessionsActive.Inc()

	e := echo.New()
	expo := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), expo)
	if err := reg.Handler()(c); err != nil {
		t.Fatal(err)
	}
	body := expo.Body.String()
	for _, want := range []string{
		`portal_logins_total{outcome="failure"} 2`,
		`portal_logins_total{outcome="success"} 1`,
		`portal_audit_entries_total 1`,
		`portal_sessions_active 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}

func TestIsolatedRegistries(t *testing.T) {
	// Two registries must not share state (prometheus default registry
	// would panic on duplicate registration).
	a := New()
	b := New()
	a.AuditEntriesTotal.Inc()

	e := echo.New()
	expo := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), expo)
	if err := b.Handler()(c); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(expo.Body.String(), "portal_audit_entries_total 1") {
		t.Fatal("registries leaked state")
	}
}
