package authz

import (
	"strings"

	"github.com/careportal/api/internal/platform/apperr"
)

// Role is a closed enumeration. Unknown values are rejected at the
// boundary instead of being mapped to a default.
type Role string

const (
	RolePatient    Role = "patient"
	RoleDoctor     Role = "doctor"
	RoleNurse      Role = "nurse"
	RoleProvider   Role = "provider"
	RoleTechnician Role = "technician"
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
)

// Roles lists every recognized role.
var Roles = []Role{
	RolePatient, RoleDoctor, RoleNurse, RoleProvider,
	RoleTechnician, RoleStaff, RoleAdmin,
}

// ParseRole validates a role label. Matching is exact after trim+lower;
// substrings and aliases are deliberately not accepted.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", apperr.Sub(apperr.KindValidation, apperr.SubUnknownRole, "unknown role %q", s)
}

// Valid reports whether the role is a member of the enumeration.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}
