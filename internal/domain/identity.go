package domain

import "strings"

// Role is the capacity in which a user acts within a session
type Role string

const (
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
)

// ParseRole converts a stored or transmitted role string into a Role.
// Unknown values report false.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleDoctor:
		return RoleDoctor, true
	case RolePatient:
		return RolePatient, true
	default:
		return "", false
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Identity is the authenticated user of a session.
// Username doubles as login handle and record lookup key.
type Identity struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Complete reports whether both fields are present. A partial identity is
// treated as unauthenticated.
func (i Identity) Complete() bool {
	return i.Username != "" && i.Role.Valid()
}
