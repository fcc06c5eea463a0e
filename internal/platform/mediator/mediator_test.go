package mediator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
)

type recordedEntry struct {
	Action    string
	ActorID   string
	SubjectID string
	Payload   map[string]any
}

type mockRecorder struct {
	mu      sync.Mutex
	entries []recordedEntry
}

func (r *mockRecorder) Record(_ context.Context, action, actorID, subjectID string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedEntry{action, actorID, subjectID, payload})
}

func (r *mockRecorder) byAction(action string) []recordedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func staticResolver(known map[string]Principal) Resolver {
	return ResolverFunc(func(_ context.Context, token string) (Principal, error) {
		p, ok := known[token]
		if !ok {
			return Principal{}, apperr.Sub(apperr.KindAuthRequired, apperr.SubTokenInvalid, "unknown token")
		}
		return p, nil
	})
}

func newMediator(rec *mockRecorder, known map[string]Principal) *Mediator {
	return New(staticResolver(known), authz.New(), rec)
}

func runRequest(t *testing.T, m *Mediator, token string, mws []echo.MiddlewareFunc, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		_ = c.JSON(apperr.HTTPStatus(apperr.KindOf(err)), map[string]any{
			"error": map[string]any{"kind": apperr.KindOf(err).String(), "message": err.Error()},
		})
	}
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h := handler
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

var admin = Principal{ID: "adm-1", Role: authz.RoleAdmin, Active: true}
var patient = Principal{ID: "pat-1", Role: authz.RolePatient, Active: true}

func TestAuthenticateSetsPrincipal(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, map[string]Principal{"tok-1": patient})

	var got Principal
	res := runRequest(t, m, "tok-1",
		[]echo.MiddlewareFunc{m.Authenticate()},
		func(c echo.Context) error {
			got, _ = PrincipalFromContext(c.Request().Context())
			return c.NoContent(http.StatusOK)
		})
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	if got.ID != "pat-1" {
		t.Fatalf("principal = %+v", got)
	}
}

func TestAuthenticateFailuresAreUniform(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, map[string]Principal{"tok-1": patient})
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	for name, token := range map[string]string{
		"missing": "",
		"unknown": "bad-token",
	} {
		res := runRequest(t, m, token, []echo.MiddlewareFunc{m.Authenticate()}, handler)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", name, res.Code)
		}
	}
}

func TestAuthenticateStorageFailureIsNotUnauthorized(t *testing.T) {
	rec := &mockRecorder{}
	m := New(ResolverFunc(func(context.Context, string) (Principal, error) {
		return Principal{}, apperr.Internal(errors.New("connection refused"))
	}), authz.New(), rec)
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	res := runRequest(t, m, "tok-1", []echo.MiddlewareFunc{m.Authenticate()}, handler)
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", res.Code)
	}
}

func TestRequireDeniesAndAudits(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, map[string]Principal{"tok-p": patient})

	res := runRequest(t, m, "tok-p",
		[]echo.MiddlewareFunc{m.Authenticate(), m.Require(authz.OpAdminUsers, NoTarget)},
		func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if res.Code != http.StatusForbidden {
		t.Fatalf("status = %d", res.Code)
	}
	denied := rec.byAction("ACCESS.DENIED")
	if len(denied) != 1 || denied[0].ActorID != "pat-1" {
		t.Fatalf("denied audit entries = %+v", denied)
	}
}

func TestRequirePermitsSelfTarget(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, map[string]Principal{"tok-p": patient})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/users/pat-1", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer tok-p")
	res := httptest.NewRecorder()
	c := e.NewContext(req, res)
	c.SetParamNames("id")
	c.SetParamValues("pat-1")

	h := m.Authenticate()(m.Require(authz.OpProfileRead, TargetParam("id"))(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))
	if err := h(c); err != nil {
		t.Fatalf("self-target denied: %v", err)
	}
}

func TestAuthorizeWithoutEchoContext(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, nil)

	if err := m.Authorize(context.Background(), admin, authz.OpAdminUsers, "pat-1"); err != nil {
		t.Fatalf("admin check: %v", err)
	}
	err := m.Authorize(context.Background(), patient, authz.OpRecordsRead, "pat-2")
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("cross-patient read: %v", err)
	}
}

func TestDecisionHook(t *testing.T) {
	rec := &mockRecorder{}
	var ops []string
	var outcomes []bool
	m := New(staticResolver(nil), authz.New(), rec, WithDecisionHook(func(op authz.Operation, allowed bool) {
		ops = append(ops, string(op))
		outcomes = append(outcomes, allowed)
	}))

	_ = m.Authorize(context.Background(), admin, authz.OpAdminUsers, "")
	_ = m.Authorize(context.Background(), patient, authz.OpAdminUsers, "")
	if len(ops) != 2 || !outcomes[0] || outcomes[1] {
		t.Fatalf("hook calls: ops=%v outcomes=%v", ops, outcomes)
	}
}

func TestRunBulkMixedOutcomes(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, nil)

	failing := map[string]bool{"u-3": true}
	results := m.RunBulk(context.Background(), admin, authz.OpAdminUsers, "ADMIN.BULK",
		[]string{"u-1", "u-2", "u-3", "u-1"},
		func(_ context.Context, target string) error {
			if failing[target] {
				return errors.New("storage failure")
			}
			return nil
		})

	want := []string{OutcomeOK, OutcomeOK, OutcomeFailed, OutcomeFailed}
	if len(results) != len(want) {
		t.Fatalf("results = %+v", results)
	}
	for i, r := range results {
		if r.Outcome != want[i] {
			t.Errorf("target %s outcome = %s, want %s", r.Target, r.Outcome, want[i])
		}
	}
	if results[3].Reason != "duplicate target" {
		t.Errorf("duplicate reason = %q", results[3].Reason)
	}
	if intents := rec.byAction("ADMIN.BULK"); len(intents) != 1 {
		t.Errorf("bulk intent entries = %d", len(intents))
	}
	if targets := rec.byAction("ADMIN.BULK_TARGET"); len(targets) != 4 {
		t.Errorf("per-target entries = %d", len(targets))
	}
}

func TestRunBulkPolicyDeniedPerTarget(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, nil)

	// Patients hold no bulk capability at all.
	results := m.RunBulk(context.Background(), patient, authz.OpAdminUsers, "ADMIN.BULK",
		[]string{"u-1"}, func(context.Context, string) error { return nil })
	if results[0].Outcome != OutcomeDenied {
		t.Fatalf("outcome = %s", results[0].Outcome)
	}
}

func TestRunBulkDeadlineCancelsRemainder(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	applied := 0
	results := m.RunBulk(ctx, admin, authz.OpAdminUsers, "ADMIN.BULK",
		[]string{"u-1", "u-2", "u-3", "u-4"},
		func(ctx context.Context, target string) error {
			applied++
			if target == "u-2" {
				cancel()
				return ctx.Err()
			}
			return nil
		})

	if applied != 2 {
		t.Fatalf("applied = %d", applied)
	}
	want := []string{OutcomeOK, OutcomeCancelled, OutcomeCancelled, OutcomeCancelled}
	for i, r := range results {
		if r.Outcome != want[i] {
			t.Errorf("target %s outcome = %s, want %s", r.Target, r.Outcome, want[i])
		}
	}
}

func TestRunBulkPreservesCallerOrder(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, nil)
	targets := []string{"c", "a", "b"}
	results := m.RunBulk(context.Background(), admin, authz.OpAdminUsers, "ADMIN.BULK",
		targets, func(context.Context, string) error { return nil })
	for i, r := range results {
		if r.Target != targets[i] {
			t.Fatalf("order broken at %d: %s", i, r.Target)
		}
	}
}

func TestRunBulkExpiredDeadlineBeforeStart(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	results := m.RunBulk(ctx, admin, authz.OpAdminUsers, "ADMIN.BULK",
		[]string{"u-1", "u-2"}, func(context.Context, string) error { return nil })
	for _, r := range results {
		if r.Outcome != OutcomeCancelled {
			t.Fatalf("outcome = %s", r.Outcome)
		}
	}
}

func TestRunBulkDomainRefusalIsDenied(t *testing.T) {
	rec := &mockRecorder{}
	m := newMediator(rec, nil)

	results := m.RunBulk(context.Background(), admin, authz.OpAdminUsers, "ADMIN.BULK",
		[]string{"u-1"},
		func(context.Context, string) error {
			return apperr.E(apperr.KindForbidden, "cannot change the status of another admin")
		})
	if results[0].Outcome != OutcomeDenied {
		t.Fatalf("outcome = %s (%s)", results[0].Outcome, results[0].Reason)
	}
}
