package account

import (
	"context"
	"time"
)

// ListFilter narrows the admin user listing. Zero values mean "any".
type ListFilter struct {
	Role   string
	Status string
	// ExcludeStatus filters out one status instead of selecting one;
	// deleted principals are always excluded.
	ExcludeStatus string
	Search        string
	DateFrom      *time.Time
	DateTo        *time.Time
	Page          int
	Limit         int
}

// PrincipalRepository persists principals. Create returns a conflict
// error when the normalized email is taken.
type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	Update(ctx context.Context, p *Principal) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f ListFilter) ([]Principal, int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	CountByRole(ctx context.Context) (map[string]int, error)
}

// SessionRepository persists sessions keyed by token hash.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByTokenHash(ctx context.Context, hash string) (*Session, error)
	// Revoke marks one session revoked; reports whether this call was
	// the effective revocation.
	Revoke(ctx context.Context, hash string, now time.Time) (bool, error)
	// RevokeAllFor revokes every live session of a principal and
	// returns how many it touched.
	RevokeAllFor(ctx context.Context, principalID string, now time.Time) (int, error)
	// RevokeAllForExcept spares one session, identified by hash.
	RevokeAllForExcept(ctx context.Context, principalID, keepHash string, now time.Time) (int, error)
	CountActive(ctx context.Context, now time.Time) (int, error)
}
