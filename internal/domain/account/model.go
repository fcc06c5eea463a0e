package account

import (
	"strings"
	"time"

	"github.com/careportal/api/internal/platform/authz"
)

// Status is the principal lifecycle state. Only active principals can
// authenticate or act.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// ValidStatus reports whether s is a recognized lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// Principal is a user of the portal. Credential material never
// serializes.
type Principal struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  authz.Role `json:"role"`

	Status Status `json:"status"`

	CredentialHash string     `json:"-"`
	FailedLogins   int        `json:"-"`
	LockedUntil    *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Active reports whether the principal may act.
func (p *Principal) Active() bool {
	return p.Status == StatusActive
}

// Locked reports whether the credential is under lockout at now.
func (p *Principal) Locked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// Session is one issued bearer token, stored by hash only.
type Session struct {
	TokenHash   string
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// Valid reports whether the session authenticates at now.
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// NormalizeEmail maps equivalent spellings of an address to one
// canonical form. Two addresses are the same account iff they
// normalize identically.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
