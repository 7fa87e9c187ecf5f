package domain

import "strings"

// Role is the canonical account role. The legacy marketplace client used
// "user" and "customer" interchangeably; NormalizeRole is the single place
// that mapping happens, so nothing downstream compares raw strings.
type Role string

const (
	RoleUnknown    Role = ""
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
	RoleCustomer   Role = "customer"
)

// NormalizeRole maps a raw role string to its canonical Role. The legacy
// "user" spelling is accepted on input only and always renders as "customer".
func NormalizeRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin":
		return RoleAdmin
	case "technician", "tech":
		return RoleTechnician
	case "customer", "user":
		return RoleCustomer
	case "":
		return RoleUnknown
	default:
		return Role(strings.ToLower(strings.TrimSpace(raw)))
	}
}

func (r Role) String() string { return string(r) }

// Matches reports whether r equals candidate after normalization, so
// callers may still pass the legacy "user" spelling.
func (r Role) Matches(candidate string) bool {
	return r == NormalizeRole(candidate)
}
