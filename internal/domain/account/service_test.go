package account

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
	"github.com/careportal/api/internal/platform/password"
)

// =========== in-memory repositories ===========

type memPrincipals struct {
	mu   sync.Mutex
	rows map[string]*Principal
}

func newMemPrincipals() *memPrincipals {
	return &memPrincipals{rows: make(map[string]*Principal)}
}

func clone(p *Principal) *Principal {
	cp := *p
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		cp.LockedUntil = &t
	}
	return &cp
}

func (r *memPrincipals) Create(_ context.Context, p *Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Email == p.Email {
			return apperr.E(apperr.KindConflict, "email already registered")
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.rows[p.ID] = clone(p)
	return nil
}

func (r *memPrincipals) GetByID(_ context.Context, id string) (*Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "principal not found")
	}
	return clone(p), nil
}

func (r *memPrincipals) GetByEmail(_ context.Context, email string) (*Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.Email == email {
			return clone(p), nil
		}
	}
	return nil, apperr.E(apperr.KindNotFound, "principal not found")
}

func (r *memPrincipals) Update(_ context.Context, p *Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.ID]; !ok {
		return apperr.E(apperr.KindNotFound, "principal not found")
	}
	r.rows[p.ID] = clone(p)
	return nil
}

func (r *memPrincipals) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return apperr.E(apperr.KindNotFound, "principal not found")
	}
	delete(r.rows, id)
	return nil
}

func (r *memPrincipals) List(_ context.Context, f ListFilter) ([]Principal, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Principal
	for _, p := range r.rows {
		if p.Status == StatusDeleted {
			continue
		}
		if f.Role != "" && string(p.Role) != f.Role {
			continue
		}
		if f.Status != "" && string(p.Status) != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name+p.Email), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, len(out), nil
}

func (r *memPrincipals) CountByStatus(context.Context) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Status]int)
	for _, p := range r.rows {
		out[p.Status]++
	}
	return out, nil
}

func (r *memPrincipals) CountByRole(context.Context) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, p := range r.rows {
		if p.Status != StatusDeleted {
			out[string(p.Role)]++
		}
	}
	return out, nil
}

type memSessions struct {
	mu   sync.Mutex
	rows map[string]*Session
}

func newMemSessions() *memSessions {
	return &memSessions{rows: make(map[string]*Session)}
}

func (r *memSessions) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows[s.TokenHash] = &cp
	return nil
}

func (r *memSessions) GetByTokenHash(_ context.Context, hash string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[hash]
	if !ok {
		return nil, apperr.Sub(apperr.KindAuthRequired, apperr.SubTokenInvalid, "unknown token")
	}
	cp := *s
	return &cp, nil
}

func (r *memSessions) Revoke(_ context.Context, hash string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[hash]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	s.RevokedAt = &now
	return true, nil
}

func (r *memSessions) RevokeAllFor(_ context.Context, principalID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.rows {
		if s.PrincipalID == principalID && s.RevokedAt == nil {
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *memSessions) RevokeAllForExcept(_ context.Context, principalID, keepHash string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for hash, s := range r.rows {
		if s.PrincipalID == principalID && hash != keepHash && s.RevokedAt == nil {
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *memSessions) CountActive(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.rows {
		if s.RevokedAt == nil && now.Before(s.ExpiresAt) {
			n++
		}
	}
	return n, nil
}

type nopRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *nopRecorder) Record(_ context.Context, action, _, _ string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

func (r *nopRecorder) count(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.actions {
		if a == action {
			n++
		}
	}
	return n
}

// =========== fixture ===========

type fixture struct {
	svc        *Service
	principals *memPrincipals
	sessions   *memSessions
	rec        *nopRecorder
	clock      *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, opts ...func(*Params)) *fixture {
	t.Helper()
	params := Params{
		SessionTTL:       time.Hour,
		LockoutThreshold: 3,
		LockoutBackoff:   5 * time.Minute,
		PasswordPolicy:   password.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(&params)
	}
	f := &fixture{
		principals: newMemPrincipals(),
		sessions:   newMemSessions(),
		rec:        &nopRecorder{},
		clock:      &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = NewService(f.principals, f.sessions, f.rec, PassthroughTx, params,
		zerolog.Nop(), WithClock(f.clock.Now))
	return f
}

const goodPassword = "Str0ng!pass"

func (f *fixture) register(t *testing.T, email string) *Principal {
	t.Helper()
	p, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Test User", Email: email, Password: goodPassword,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return p
}

func (f *fixture) login(t *testing.T, email string) (*Principal, string) {
	t.Helper()
	p, tok, err := f.svc.Authenticate(context.Background(), email, goodPassword)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return p, tok
}

// =========== registration ===========

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	created := f.register(t, "pat@example.com")
	if created.Role != authz.RolePatient {
		t.Fatalf("default role = %s", created.Role)
	}
	if created.CredentialHash == goodPassword || created.CredentialHash == "" {
		t.Fatal("credential stored without hashing")
	}

	p, tok := f.login(t, "pat@example.com")
	if p.ID != created.ID {
		t.Fatal("login resolved a different principal")
	}
	resolved, err := f.svc.Resolve(context.Background(), tok)
	if err != nil {
		t.Fatalf("resolve fresh token: %v", err)
	}
	if resolved.ID != created.ID {
		t.Fatal("token resolves to a different principal")
	}
}

func TestRegisterNormalizesEmail(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "  MiXeD@Example.COM ")
	if p.Email != "mixed@example.com" {
		t.Fatalf("email = %q", p.Email)
	}
	// A case variant of a taken address conflicts.
	_, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Other", Email: "mixed@EXAMPLE.com", Password: goodPassword,
	})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("case-variant register: %v", err)
	}
	// Login accepts any spelling of the same address.
	if _, _, err := f.svc.Authenticate(context.Background(), "MIXED@example.COM", goodPassword); err != nil {
		t.Fatalf("login with variant spelling: %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name    string
		in      RegisterInput
		kind    apperr.Kind
		subkind string
	}{
		{"missing name", RegisterInput{Email: "a@b.com", Password: goodPassword}, apperr.KindValidation, ""},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: goodPassword}, apperr.KindValidation, apperr.SubBadEmail},
		{"weak password", RegisterInput{Name: "A", Email: "a@b.com", Password: "short"}, apperr.KindValidation, apperr.SubWeakPassword},
		{"unknown role", RegisterInput{Name: "A", Email: "a@b.com", Password: goodPassword, Role: "superuser", ByAdmin: true}, apperr.KindValidation, apperr.SubUnknownRole},
		{"self-registering doctor", RegisterInput{Name: "A", Email: "a@b.com", Password: goodPassword, Role: "doctor"}, apperr.KindForbidden, ""},
	}
	for _, tc := range cases {
		_, err := f.svc.Register(context.Background(), tc.in)
		if apperr.KindOf(err) != tc.kind {
			t.Errorf("%s: kind = %v, err = %v", tc.name, apperr.KindOf(err), err)
		}
		if tc.subkind != "" && apperr.SubkindOf(err) != tc.subkind {
			t.Errorf("%s: subkind = %q", tc.name, apperr.SubkindOf(err))
		}
	}
}

func TestAdminMayCreateAnyRole(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Doc", Email: "doc@example.com", Password: goodPassword,
		Role: "doctor", ByAdmin: true, ActorID: "adm-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != authz.RoleDoctor {
		t.Fatalf("role = %s", p.Role)
	}
}

// =========== authentication ===========

func TestLoginFailureIsUniform(t *testing.T) {
	f := newFixture(t)
	f.register(t, "pat@example.com")

	_, _, errUnknown := f.svc.Authenticate(context.Background(), "ghost@example.com", goodPassword)
	_, _, errWrongPw := f.svc.Authenticate(context.Background(), "pat@example.com", "Wr0ng!pass")

	if apperr.KindOf(errUnknown) != apperr.KindAuthRequired {
		t.Fatalf("unknown email kind: %v", errUnknown)
	}
	if apperr.KindOf(errWrongPw) != apperr.KindAuthRequired {
		t.Fatalf("wrong password kind: %v", errWrongPw)
	}
	if errUnknown.Error() != errWrongPw.Error() {
		t.Fatalf("messages differ: %q vs %q", errUnknown, errWrongPw)
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	f := newFixture(t)
	f.register(t, "pat@example.com")

	for i := 0; i < 3; i++ {
		_, _, err := f.svc.Authenticate(context.Background(), "pat@example.com", "Wr0ng!pass")
		if apperr.KindOf(err) != apperr.KindAuthRequired {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	// Locked now: even the right password is refused.
	_, _, err := f.svc.Authenticate(context.Background(), "pat@example.com", goodPassword)
	if apperr.KindOf(err) != apperr.KindLocked {
		t.Fatalf("during lockout: %v", err)
	}

	// Backoff expiry restores access.
	f.clock.Advance(6 * time.Minute)
	if _, _, err := f.svc.Authenticate(context.Background(), "pat@example.com", goodPassword); err != nil {
		t.Fatalf("after backoff: %v", err)
	}
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	f := newFixture(t)
	f.register(t, "pat@example.com")

	for i := 0; i < 2; i++ {
		f.svc.Authenticate(context.Background(), "pat@example.com", "Wr0ng!pass")
	}
	f.login(t, "pat@example.com")

	// Two more failures start from zero, not from two.
	for i := 0; i < 2; i++ {
		f.svc.Authenticate(context.Background(), "pat@example.com", "Wr0ng!pass")
	}
	if _, _, err := f.svc.Authenticate(context.Background(), "pat@example.com", goodPassword); err != nil {
		t.Fatalf("should not be locked: %v", err)
	}
}

func TestInactivePrincipalCannotLogin(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	if _, err := f.svc.SetStatus(context.Background(), "adm-1", p.ID, StatusSuspended, "test"); err != nil {
		t.Fatal(err)
	}
	_, _, err := f.svc.Authenticate(context.Background(), "pat@example.com", goodPassword)
	if apperr.KindOf(err) != apperr.KindAuthRequired {
		t.Fatalf("suspended login: %v", err)
	}
}

// =========== resolve ===========

func TestResolveRejectsGarbageToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Resolve(context.Background(), "not-a-real-token")
	if apperr.KindOf(err) != apperr.KindAuthRequired {
		t.Fatalf("garbage token: %v", err)
	}
}

func TestResolveExpiredSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "pat@example.com")
	_, tok := f.login(t, "pat@example.com")

	f.clock.Advance(2 * time.Hour)
	_, err := f.svc.Resolve(context.Background(), tok)
	if apperr.SubkindOf(err) != apperr.SubTokenExpired {
		t.Fatalf("expired resolve: %v", err)
	}
}

func TestResolveExactTTLBoundary(t *testing.T) {
	f := newFixture(t)
	f.register(t, "pat@example.com")
	_, tok := f.login(t, "pat@example.com")

	// Expiry instant itself is invalid: validity is now < expires_at.
	f.clock.Advance(time.Hour)
	if _, err := f.svc.Resolve(context.Background(), tok); err == nil {
		t.Fatal("token valid at the expiry instant")
	}
}

func TestResolveRevokedSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "pat@example.com")
	_, tok := f.login(t, "pat@example.com")

	if err := f.svc.Revoke(context.Background(), tok); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Resolve(context.Background(), tok)
	if apperr.SubkindOf(err) != apperr.SubTokenRevoked {
		t.Fatalf("revoked resolve: %v", err)
	}
}

func TestResolveDeactivatedPrincipal(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	_, tok := f.login(t, "pat@example.com")

	if _, err := f.svc.SetStatus(context.Background(), "adm-1", p.ID, StatusInactive, "cleanup"); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Resolve(context.Background(), tok)
	if apperr.KindOf(err) != apperr.KindAuthRequired {
		t.Fatalf("inactive principal resolve: %v", err)
	}
}

func TestResolveDeletedPrincipal(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	_, tok := f.login(t, "pat@example.com")

	if err := f.svc.Delete(context.Background(), "adm-1", p.ID, "offboarded", true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Resolve(context.Background(), tok); err == nil {
		t.Fatal("token of deleted principal still resolves")
	}
}

// =========== revocation ===========

func TestRevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "pat@example.com")
	_, tok := f.login(t, "pat@example.com")

	for i := 0; i < 3; i++ {
		if err := f.svc.Revoke(context.Background(), tok); err != nil {
			t.Fatalf("revoke %d: %v", i, err)
		}
	}
	if n := f.rec.count("AUTH.LOGOUT"); n != 1 {
		t.Fatalf("logout audited %d times", n)
	}
}

func TestRevokeUnknownTokenSucceeds(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Revoke(context.Background(), "never-issued"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}
}

func TestRevokeAllFor(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	_, tok1 := f.login(t, "pat@example.com")
	_, tok2 := f.login(t, "pat@example.com")

	if err := f.svc.RevokeAllFor(context.Background(), p.ID); err != nil {
		t.Fatal(err)
	}
	for _, tok := range []string{tok1, tok2} {
		if _, err := f.svc.Resolve(context.Background(), tok); err == nil {
			t.Fatal("session survived RevokeAllFor")
		}
	}
}

// =========== rotation ===========

func TestRotateRevokesOtherSessions(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	_, tokA := f.login(t, "pat@example.com")
	_, tokB := f.login(t, "pat@example.com")

	const newPassword = "N3w!passw0rd"
	if err := f.svc.RotateCredential(context.Background(), p.ID, goodPassword, newPassword, tokA); err != nil {
		t.Fatal(err)
	}

	// The rotating session survives; the other dies.
	if _, err := f.svc.Resolve(context.Background(), tokA); err != nil {
		t.Fatalf("rotating session revoked: %v", err)
	}
	if _, err := f.svc.Resolve(context.Background(), tokB); err == nil {
		t.Fatal("other session survived rotation")
	}

	// Old credential is dead, new one works.
	if _, _, err := f.svc.Authenticate(context.Background(), "pat@example.com", goodPassword); err == nil {
		t.Fatal("old password still authenticates")
	}
	if _, _, err := f.svc.Authenticate(context.Background(), "pat@example.com", newPassword); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestRotateRequiresOldPassword(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	_, tok := f.login(t, "pat@example.com")

	err := f.svc.RotateCredential(context.Background(), p.ID, "Wr0ng!pass", "N3w!passw0rd", tok)
	if apperr.KindOf(err) != apperr.KindAuthRequired {
		t.Fatalf("rotate with wrong password: %v", err)
	}
	// Nothing changed.
	if _, _, err := f.svc.Authenticate(context.Background(), "pat@example.com", goodPassword); err != nil {
		t.Fatalf("old password broken by failed rotate: %v", err)
	}
}

func TestRotateValidatesNewPassword(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	_, tok := f.login(t, "pat@example.com")

	err := f.svc.RotateCredential(context.Background(), p.ID, goodPassword, "weak", tok)
	if apperr.SubkindOf(err) != apperr.SubWeakPassword {
		t.Fatalf("weak new password: %v", err)
	}
}

// =========== profile ===========

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")

	name := "Renamed"
	email := "NEW@Example.com"
	updated, err := f.svc.UpdateProfile(context.Background(), p.ID, UpdateProfileInput{Name: &name, Email: &email})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Renamed" || updated.Email != "new@example.com" {
		t.Fatalf("updated = %+v", updated)
	}
}

// =========== admin mutations ===========

func TestSetStatusGuardsOtherAdmins(t *testing.T) {
	f := newFixture(t)
	adminA, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Admin A", Email: "a@example.com", Password: goodPassword, Role: "admin", ByAdmin: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	adminB, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Admin B", Email: "b@example.com", Password: goodPassword, Role: "admin", ByAdmin: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.SetStatus(context.Background(), adminA.ID, adminB.ID, StatusSuspended, "takeover")
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("admin vs admin: %v", err)
	}
}

func TestAssignRoleBlocksAdminDemotionByDefault(t *testing.T) {
	f := newFixture(t)
	adm, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Admin", Email: "adm@example.com", Password: goodPassword, Role: "admin", ByAdmin: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.AssignRole(context.Background(), adm.ID, adm.ID, "staff")
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("demotion: %v", err)
	}
}

func TestAssignRoleAllowsDemotionWhenConfigured(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.AllowAdminDemotion = true })
	adm, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Admin", Email: "adm@example.com", Password: goodPassword, Role: "admin", ByAdmin: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := f.svc.AssignRole(context.Background(), adm.ID, adm.ID, "staff")
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != authz.RoleStaff {
		t.Fatalf("role = %s", p.Role)
	}
}

func TestAssignRoleRejectsUnknownRole(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	_, err := f.svc.AssignRole(context.Background(), "adm-1", p.ID, "wizard")
	if apperr.SubkindOf(err) != apperr.SubUnknownRole {
		t.Fatalf("unknown role: %v", err)
	}
}

func TestSoftDeleteDeactivates(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "pat@example.com")
	if err := f.svc.Delete(context.Background(), "adm-1", p.ID, "dormant", false); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusInactive {
		t.Fatalf("status = %s", got.Status)
	}
}
