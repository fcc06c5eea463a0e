// Package authz is the authorization policy engine: a pure, in-memory
// mapping from (role, operation, target) to permit or deny. It holds no
// state beyond the immutable capability matrix and an optional
// record-level access hook.
package authz

import (
	"context"

	"github.com/careportal/api/internal/platform/apperr"
)

// Operation names a protected capability. Lookup is exact-match.
type Operation string

const (
	OpProfileRead     Operation = "profile.read"
	OpProfileUpdate   Operation = "profile.update"
	OpRecordsRead     Operation = "records.read"
	OpRecordsShare    Operation = "records.share"
	OpAppointmentBook Operation = "appointment.book"
	OpAppointmentList Operation = "appointment.list"
	OpTestCreate      Operation = "test.create"
	OpTestUpdate      Operation = "test.update"
	OpTestDelete      Operation = "test.delete"
	OpTestAssign      Operation = "test.assign"
	OpAdminUsers      Operation = "admin.users"
	OpAdminAuditRead  Operation = "admin.audit.read"
	OpAdminMetrics    Operation = "admin.metrics.read"
	OpAdminBulk       Operation = "admin.bulk"
	OpAdminNotify     Operation = "admin.notify"
)

// Scope is the cell value of the capability matrix.
type Scope int

const (
	// ScopeDenied blocks the operation for the role.
	ScopeDenied Scope = iota
	// ScopeSelf permits only when the target is absent or the caller.
	ScopeSelf
	// ScopeAny permits regardless of target.
	ScopeAny
)

// clinical groups doctor, nurse and provider: they share one column.
func cell(patient, clinical, technical, admin Scope) map[Role]Scope {
	return map[Role]Scope{
		RolePatient:    patient,
		RoleDoctor:     clinical,
		RoleNurse:      clinical,
		RoleProvider:   clinical,
		RoleTechnician: technical,
		RoleStaff:      technical,
		RoleAdmin:      admin,
	}
}

// matrix is the authoritative access table. It is immutable after
// process initialization.
var matrix = map[Operation]map[Role]Scope{
	OpProfileRead:     cell(ScopeSelf, ScopeSelf, ScopeSelf, ScopeAny),
	OpProfileUpdate:   cell(ScopeSelf, ScopeSelf, ScopeSelf, ScopeAny),
	OpRecordsRead:     cell(ScopeSelf, ScopeAny, ScopeSelf, ScopeAny),
	OpRecordsShare:    cell(ScopeSelf, ScopeDenied, ScopeDenied, ScopeAny),
	OpAppointmentBook: cell(ScopeSelf, ScopeDenied, ScopeDenied, ScopeAny),
	OpAppointmentList: cell(ScopeSelf, ScopeAny, ScopeDenied, ScopeAny),
	OpTestCreate:      cell(ScopeDenied, ScopeDenied, ScopeAny, ScopeAny),
	OpTestUpdate:      cell(ScopeDenied, ScopeDenied, ScopeAny, ScopeAny),
	OpTestDelete:      cell(ScopeDenied, ScopeDenied, ScopeDenied, ScopeAny),
	OpTestAssign:      cell(ScopeDenied, ScopeDenied, ScopeDenied, ScopeAny),
	OpAdminUsers:      cell(ScopeDenied, ScopeDenied, ScopeDenied, ScopeAny),
	OpAdminAuditRead:  cell(ScopeDenied, ScopeDenied, ScopeDenied, ScopeAny),
	OpAdminMetrics:    cell(ScopeDenied, ScopeDenied, ScopeDenied, ScopeAny),
	OpAdminBulk:       cell(ScopeDenied, ScopeDenied, ScopeDenied, ScopeAny),
	OpAdminNotify:     cell(ScopeDenied, ScopeDenied, ScopeDenied, ScopeAny),
}

// Lookup returns the matrix cell for a (role, operation) pair. Unknown
// operations and roles read as denied.
func Lookup(role Role, op Operation) Scope {
	cells, ok := matrix[op]
	if !ok {
		return ScopeDenied
	}
	return cells[role]
}

// Subject is the engine's view of a caller: identity, current role and
// whether the account is active. Role is read from the principal at
// check time, never from the session.
type Subject struct {
	ID     string
	Role   Role
	Active bool
}

// RecordAccessFunc reports whether a clinician holds an active share
// grant from the given patient. It refines ScopeAny for records.read.
type RecordAccessFunc func(ctx context.Context, clinicianID, patientID string) (bool, error)

// Policy evaluates the capability matrix.
type Policy struct {
	recordAccess RecordAccessFunc
}

// Option configures a Policy.
type Option func(*Policy)

// WithRecordAccess installs the record-level share-grant predicate.
// Without it, clinician reads of another patient's records deny.
func WithRecordAccess(fn RecordAccessFunc) Option {
	return func(p *Policy) { p.recordAccess = fn }
}

// New builds a Policy.
func New(opts ...Option) *Policy {
	p := &Policy{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// clinicalRole reports whether the role sits in the doctor-tier column.
func clinicalRole(r Role) bool {
	return r == RoleDoctor || r == RoleNurse || r == RoleProvider
}

// Check decides whether sub may perform op against targetID (empty
// means no specific target). nil means permit; otherwise the error
// carries the denial reason.
func (p *Policy) Check(ctx context.Context, sub Subject, op Operation, targetID string) error {
	if !sub.Active {
		return apperr.E(apperr.KindForbidden, "account is not active")
	}

	switch Lookup(sub.Role, op) {
	case ScopeAny:
		// Clinician record reads additionally require a share grant
		// from the target patient.
		if op == OpRecordsRead && clinicalRole(sub.Role) && targetID != "" && targetID != sub.ID {
			if p.recordAccess == nil {
				return apperr.E(apperr.KindForbidden, "no record access grant")
			}
			ok, err := p.recordAccess(ctx, sub.ID, targetID)
			if err != nil {
				return apperr.Internal(err)
			}
			if !ok {
				return apperr.E(apperr.KindForbidden, "no record access grant")
			}
		}
		return nil
	case ScopeSelf:
		if targetID == "" || targetID == sub.ID {
			return nil
		}
		return apperr.E(apperr.KindForbidden, "%s is limited to your own account", op)
	default:
		return apperr.E(apperr.KindForbidden, "role %s may not perform %s", sub.Role, op)
	}
}
