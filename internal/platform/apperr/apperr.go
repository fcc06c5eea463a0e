// Package apperr defines the error taxonomy shared by every domain
// package. Handlers return these kinds; the HTTP layer maps each kind to
// a stable status code and never exposes internal detail.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	// KindInternal covers storage exhaustion and unexpected state. It
	// never carries internal detail to the caller.
	KindInternal Kind = iota
	// KindAuthRequired means no valid session accompanied the request.
	KindAuthRequired
	// KindForbidden means the session is valid but policy denies.
	KindForbidden
	// KindValidation means malformed or missing input.
	KindValidation
	// KindConflict covers duplicate email and duplicate bulk targets.
	KindConflict
	// KindNotFound means a referenced principal or record is absent.
	KindNotFound
	// KindLocked means the credential is locked out.
	KindLocked
	// KindRateLimited means a per-principal or per-source throttle fired.
	KindRateLimited
)

// Validation subkinds.
const (
	SubWeakPassword     = "weak_password"
	SubBadEmail         = "bad_email"
	SubUnknownRole      = "unknown_role"
	SubUnknownOperation = "unknown_operation"
)

// Session-resolution subkinds. All surface remotely as AuthRequired; the
// subkind only feeds the audit trail.
const (
	SubTokenInvalid      = "token_invalid"
	SubTokenExpired      = "token_expired"
	SubTokenRevoked      = "token_revoked"
	SubPrincipalInactive = "principal_inactive"
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindLocked:
		return "locked"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a typed application error.
type Error struct {
	Kind    Kind
	Subkind string
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is match two *Error values by kind and subkind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Subkind == "" || e.Subkind == t.Subkind)
}

// E builds an error of the given kind.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sub builds an error of the given kind and subkind.
func Sub(kind Kind, subkind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Subkind: subkind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and caller-facing message to an underlying error.
// The underlying error is preserved for logging but never serialized.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: err}
}

// Internal wraps an unexpected failure. The message shown to callers is
// fixed; err is retained for the log only.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", err: err}
}

// KindOf extracts the kind from any error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// SubkindOf extracts the subkind from any error, or "".
func SubkindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Subkind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
