package account

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
	"github.com/careportal/api/internal/platform/password"
	"github.com/careportal/api/internal/platform/token"
)

// Txer runs fn atomically. The pg implementation opens a transaction
// carried on the context; tests substitute a pass-through.
type Txer func(ctx context.Context, fn func(ctx context.Context) error) error

// PassthroughTx runs fn without transactional guarantees.
func PassthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Params are the knobs the service reads from configuration.
type Params struct {
	SessionTTL       time.Duration
	LockoutThreshold int
	LockoutBackoff   time.Duration
	PasswordPolicy   password.Policy
	// AllowAdminDemotion permits reassigning the last admin tier away.
	AllowAdminDemotion bool
}

// LoginHook observes authentication outcomes. Used for metrics.
type LoginHook func(outcome string)

// SessionHook observes session issue (+1) and revocation (-n).
type SessionHook func(delta int)

// Service implements the credential and session store.
type Service struct {
	principals PrincipalRepository
	sessions   SessionRepository
	audit      audit.Recorder
	logger     zerolog.Logger
	tx         Txer
	params     Params
	now        func() time.Time

	onLogin   LoginHook
	onSession SessionHook
}

// Option configures optional hooks.
type Option func(*Service)

func WithLoginHook(fn LoginHook) Option   { return func(s *Service) { s.onLogin = fn } }
func WithSessionHook(fn SessionHook) Option { return func(s *Service) { s.onSession = fn } }

// WithClock substitutes the time source. Tests only.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires the store.
func NewService(principals PrincipalRepository, sessions SessionRepository, rec audit.Recorder, tx Txer, params Params, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		principals: principals,
		sessions:   sessions,
		audit:      rec,
		logger:     logger,
		tx:         tx,
		params:     params,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) login(outcome string) {
	if s.onLogin != nil {
		s.onLogin(outcome)
	}
}

func (s *Service) session(delta int) {
	if s.onSession != nil && delta != 0 {
		s.onSession(delta)
	}
}

func validEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// RegisterInput is the material for a new principal.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
	// ByAdmin permits non-patient roles; ActorID attributes the
	// creation in the audit trail.
	ByAdmin bool
	ActorID string
}

// Register creates a principal. Self-registration is restricted to the
// patient role; the seed command and admin surface set ByAdmin.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Principal, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.E(apperr.KindValidation, "name is required")
	}
	email := NormalizeEmail(in.Email)
	if !validEmail(email) {
		return nil, apperr.Sub(apperr.KindValidation, apperr.SubBadEmail, "invalid email address")
	}
	if err := s.params.PasswordPolicy.Validate(in.Password); err != nil {
		return nil, err
	}

	roleStr := in.Role
	if roleStr == "" {
		roleStr = string(authz.RolePatient)
	}
	role, err := authz.ParseRole(roleStr)
	if err != nil {
		return nil, err
	}
	if role != authz.RolePatient && !in.ByAdmin {
		return nil, apperr.E(apperr.KindForbidden, "self-registration is limited to patient accounts")
	}

	hash, err := password.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	p := &Principal{
		Name:           name,
		Email:          email,
		Role:           role,
		Status:         StatusActive,
		CredentialHash: hash,
	}
	if err := s.principals.Create(ctx, p); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActionUserCreate, in.ActorID, p.ID, map[string]any{
		"email": p.Email,
		"role":  string(p.Role),
	})
	return p, nil
}

// Authenticate verifies a credential and issues a session. Unknown
// address and wrong password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, pw string) (*Principal, string, error) {
	now := s.now()
	uniform := apperr.E(apperr.KindAuthRequired, "invalid credentials")

	p, err := s.principals.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			s.login("failure")
			// Burn comparable CPU so a missing account is not
			// distinguishable by response time.
			_, _ = password.Verify(password.DummyHash, pw)
			return nil, "", uniform
		}
		return nil, "", apperr.Internal(err)
	}

	if p.Locked(now) {
		s.login("locked")
		s.audit.Record(ctx, audit.ActionLoginFailed, p.ID, "", map[string]any{"reason": "locked"})
		return nil, "", apperr.E(apperr.KindLocked, "account temporarily locked")
	}
	if !p.Active() {
		s.login("failure")
		s.audit.Record(ctx, audit.ActionLoginFailed, p.ID, "", map[string]any{"reason": "inactive"})
		return nil, "", uniform
	}

	ok, err := password.Verify(p.CredentialHash, pw)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	if !ok {
		p.FailedLogins++
		if p.FailedLogins >= s.params.LockoutThreshold {
			until := now.Add(s.params.LockoutBackoff)
			p.LockedUntil = &until
			p.FailedLogins = 0
		}
		if err := s.principals.Update(ctx, p); err != nil {
			s.logger.Error().Err(err).Str("principal_id", p.ID).Msg("persist failed login counter")
		}
		s.login("failure")
		s.audit.Record(ctx, audit.ActionLoginFailed, p.ID, "", map[string]any{"reason": "bad_password"})
		return nil, "", uniform
	}

	if p.FailedLogins != 0 || p.LockedUntil != nil {
		p.FailedLogins = 0
		p.LockedUntil = nil
		if err := s.principals.Update(ctx, p); err != nil {
			s.logger.Error().Err(err).Str("principal_id", p.ID).Msg("reset failed login counter")
		}
	}

	tok, err := token.New()
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	sess := &Session{
		TokenHash:   token.Hash(tok),
		PrincipalID: p.ID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.params.SessionTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, "", apperr.Internal(err)
	}

	s.login("success")
	s.session(1)
	s.audit.Record(ctx, audit.ActionLogin, p.ID, "", nil)
	return p, tok, nil
}

// Resolve maps a bearer token to its principal. Read-only: no TTL
// sliding, no counters.
func (s *Service) Resolve(ctx context.Context, tok string) (*Principal, error) {
	sess, err := s.sessions.GetByTokenHash(ctx, token.Hash(tok))
	if err != nil {
		return nil, err
	}
	now := s.now()
	if sess.RevokedAt != nil {
		return nil, apperr.Sub(apperr.KindAuthRequired, apperr.SubTokenRevoked, "session revoked")
	}
	if !now.Before(sess.ExpiresAt) {
		return nil, apperr.Sub(apperr.KindAuthRequired, apperr.SubTokenExpired, "session expired")
	}
	p, err := s.principals.GetByID(ctx, sess.PrincipalID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Sub(apperr.KindAuthRequired, apperr.SubPrincipalInactive, "principal unavailable")
		}
		return nil, apperr.Internal(err)
	}
	if !p.Active() {
		return nil, apperr.Sub(apperr.KindAuthRequired, apperr.SubPrincipalInactive, "principal unavailable")
	}
	return p, nil
}

// Revoke invalidates one session. Idempotent; only the effective
// revocation is audited.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	hash := token.Hash(tok)
	sess, err := s.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuthRequired {
			return nil
		}
		return apperr.Internal(err)
	}
	effective, err := s.sessions.Revoke(ctx, hash, s.now())
	if err != nil {
		return apperr.Internal(err)
	}
	if effective {
		s.session(-1)
		s.audit.Record(ctx, audit.ActionLogout, sess.PrincipalID, "", nil)
	}
	return nil
}

// RevokeAllFor invalidates every live session of a principal.
func (s *Service) RevokeAllFor(ctx context.Context, principalID string) error {
	n, err := s.sessions.RevokeAllFor(ctx, principalID, s.now())
	if err != nil {
		return apperr.Internal(err)
	}
	if n > 0 {
		s.session(-n)
		s.audit.Record(ctx, audit.ActionLogout, principalID, "", map[string]any{"sessions": n})
	}
	return nil
}

// RotateCredential swaps the verifier and revokes every other session
// in one atomic step. The session used to authorize the rotation
// survives.
func (s *Service) RotateCredential(ctx context.Context, principalID, oldPassword, newPassword, currentToken string) error {
	p, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	ok, err := password.Verify(p.CredentialHash, oldPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.E(apperr.KindAuthRequired, "invalid credentials")
	}
	if err := s.params.PasswordPolicy.Validate(newPassword); err != nil {
		return err
	}
	hash, err := password.Hash(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}

	now := s.now()
	keep := token.Hash(currentToken)
	var revoked int
	err = s.tx(ctx, func(ctx context.Context) error {
		p.CredentialHash = hash
		if err := s.principals.Update(ctx, p); err != nil {
			return err
		}
		revoked, err = s.sessions.RevokeAllForExcept(ctx, principalID, keep, now)
		return err
	})
	if err != nil {
		return apperr.Internal(err)
	}
	s.session(-revoked)
	s.audit.Record(ctx, audit.ActionPasswordRotate, principalID, "", map[string]any{
		"sessions_revoked": revoked,
	})
	return nil
}

// Get returns one principal.
func (s *Service) Get(ctx context.Context, id string) (*Principal, error) {
	return s.principals.GetByID(ctx, id)
}

// UpdateProfileInput carries the self-service mutable fields.
type UpdateProfileInput struct {
	Name  *string
	Email *string
}

// UpdateProfile changes name or email. Email moves re-validate and
// re-normalize; collisions conflict.
func (s *Service) UpdateProfile(ctx context.Context, id string, in UpdateProfileInput) (*Principal, error) {
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := map[string]any{"name": p.Name, "email": p.Email}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.E(apperr.KindValidation, "name is required")
		}
		p.Name = name
	}
	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if !validEmail(email) {
			return nil, apperr.Sub(apperr.KindValidation, apperr.SubBadEmail, "invalid email address")
		}
		p.Email = email
	}
	if err := s.principals.Update(ctx, p); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionUserUpdate, id, id, map[string]any{
		"before": before,
		"after":  map[string]any{"name": p.Name, "email": p.Email},
	})
	return p, nil
}

// List serves the admin user listing.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Principal, int, error) {
	return s.principals.List(ctx, f)
}

// SetStatus moves a principal between lifecycle states. Admins cannot
// alter other admins.
func (s *Service) SetStatus(ctx context.Context, actorID, id string, status Status, reason string) (*Principal, error) {
	if !ValidStatus(status) || status == StatusDeleted {
		return nil, apperr.E(apperr.KindValidation, "invalid status %q", status)
	}
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Role == authz.RoleAdmin && p.ID != actorID {
		return nil, apperr.E(apperr.KindForbidden, "cannot change the status of another admin")
	}
	prev := p.Status
	p.Status = status
	if err := s.principals.Update(ctx, p); err != nil {
		return nil, err
	}
	if status != StatusActive {
		if err := s.RevokeAllFor(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("principal_id", id).Msg("revoke sessions on status change")
		}
	}
	s.audit.Record(ctx, audit.ActionUserStatus, actorID, id, map[string]any{
		"before": string(prev),
		"after":  string(status),
		"reason": reason,
	})
	return p, nil
}

// AssignRole changes a principal's role. Demoting an admin requires
// the demotion override.
func (s *Service) AssignRole(ctx context.Context, actorID, id, roleStr string) (*Principal, error) {
	role, err := authz.ParseRole(roleStr)
	if err != nil {
		return nil, err
	}
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Role == authz.RoleAdmin && role != authz.RoleAdmin && !s.params.AllowAdminDemotion {
		return nil, apperr.E(apperr.KindForbidden, "admin demotion is disabled")
	}
	prev := p.Role
	p.Role = role
	if err := s.principals.Update(ctx, p); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionUserRole, actorID, id, map[string]any{
		"before": string(prev),
		"after":  string(role),
	})
	return p, nil
}

// Delete retires a principal. Soft delete marks it inactive; permanent
// marks it deleted and revokes every session so outstanding tokens die
// immediately.
func (s *Service) Delete(ctx context.Context, actorID, id, reason string, permanent bool) error {
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Role == authz.RoleAdmin && p.ID != actorID {
		return apperr.E(apperr.KindForbidden, "cannot delete another admin")
	}
	if permanent {
		p.Status = StatusDeleted
	} else {
		p.Status = StatusInactive
	}
	if err := s.principals.Update(ctx, p); err != nil {
		return err
	}
	if err := s.RevokeAllFor(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("principal_id", id).Msg("revoke sessions on delete")
	}
	s.audit.Record(ctx, audit.ActionUserDelete, actorID, id, map[string]any{
		"permanent": permanent,
		"reason":    reason,
	})
	return nil
}

// CountByStatus and CountByRole feed the admin dashboard.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.principals.CountByStatus(ctx)
}

func (s *Service) CountByRole(ctx context.Context) (map[string]int, error) {
	return s.principals.CountByRole(ctx)
}

// ActiveSessions counts currently valid sessions.
func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.sessions.CountActive(ctx, s.now())
}
