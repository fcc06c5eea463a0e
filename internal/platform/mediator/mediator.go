// Package mediator is the single choke point between the HTTP surface
// and the domain services: it resolves bearer tokens to principals,
// evaluates the authorization policy, and leaves the audit trail for
// denied attempts.
package mediator

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
)

// Principal is the mediator's view of an authenticated caller.
type Principal struct {
	ID     string
	Name   string
	Email  string
	Role   authz.Role
	Active bool
}

// Subject converts to the policy engine's subject view.
func (p Principal) Subject() authz.Subject {
	return authz.Subject{ID: p.ID, Role: p.Role, Active: p.Active}
}

// Resolver turns an opaque bearer token into a principal. Token-state
// failures collapse to AuthRequired at the HTTP boundary; internal
// failures surface as such.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, token string) (Principal, error)

func (f ResolverFunc) Resolve(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}

// DecisionHook observes every policy decision. Used for metrics.
type DecisionHook func(operation authz.Operation, allowed bool)

// Mediator wires resolver, policy and audit together.
type Mediator struct {
	resolver Resolver
	policy   *authz.Policy
	audit    audit.Recorder
	onDecide DecisionHook
}

// Option configures a Mediator.
type Option func(*Mediator)

// WithDecisionHook installs a policy decision observer.
func WithDecisionHook(fn DecisionHook) Option {
	return func(m *Mediator) { m.onDecide = fn }
}

// New builds a Mediator.
func New(resolver Resolver, policy *authz.Policy, rec audit.Recorder, opts ...Option) *Mediator {
	m := &Mediator{resolver: resolver, policy: policy, audit: rec}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type ctxKey string

const principalKey ctxKey = "principal"

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal returns a context carrying p. Exposed for tests and
// for internal callers acting on behalf of a resolved principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", apperr.Sub(apperr.KindAuthRequired, apperr.SubTokenInvalid, "missing credentials")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", apperr.Sub(apperr.KindAuthRequired, apperr.SubTokenInvalid, "malformed authorization header")
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", apperr.Sub(apperr.KindAuthRequired, apperr.SubTokenInvalid, "empty bearer token")
	}
	return token, nil
}

// Authenticate resolves the bearer token and stores the principal in
// the request context. Every failure mode surfaces as the same
// AuthRequired response; the distinction lives in the audit trail and
// logs only.
func (m *Mediator) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c)
			if err != nil {
				return err
			}
			ctx := c.Request().Context()
			p, err := m.resolver.Resolve(ctx, token)
			if err != nil {
				switch apperr.KindOf(err) {
				case apperr.KindAuthRequired:
					return err
				case apperr.KindInternal:
					// Storage outages are not a caller problem;
					// masking applies to token state only.
					return err
				default:
					return apperr.Wrap(apperr.KindAuthRequired, err, "invalid credentials")
				}
			}
			ctx = WithPrincipal(ctx, p)
			ctx = audit.WithSource(ctx, c.RealIP(), c.Request().UserAgent())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// TargetFunc extracts the target principal ID for a self-scoped check.
// Return "" when the operation has no specific target.
type TargetFunc func(c echo.Context) string

// TargetParam targets the named path parameter.
func TargetParam(name string) TargetFunc {
	return func(c echo.Context) string { return c.Param(name) }
}

// NoTarget is for operations without a per-principal target.
func NoTarget(echo.Context) string { return "" }

// Require gates a route on a policy decision. Denials are audited.
func (m *Mediator) Require(op authz.Operation, target TargetFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			p, ok := PrincipalFromContext(ctx)
			if !ok {
				return apperr.E(apperr.KindAuthRequired, "no authenticated principal")
			}
			if err := m.Authorize(ctx, p, op, target(c)); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// Authorize runs one policy check for an already-resolved principal.
// Handlers use it when the target is only known after a fetch.
func (m *Mediator) Authorize(ctx context.Context, p Principal, op authz.Operation, targetID string) error {
	err := m.policy.Check(ctx, p.Subject(), op, targetID)
	if m.onDecide != nil {
		m.onDecide(op, err == nil)
	}
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == apperr.KindForbidden {
		m.audit.Record(ctx, audit.ActionAccessDenied, p.ID, targetID, map[string]any{
			"operation": string(op),
			"reason":    err.Error(),
		})
	}
	return err
}
