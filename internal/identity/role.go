package identity

import "fmt"

// Role is the closed set of principal roles. It replaces the usual pair of
// is_patient/is_doctor flags so the "both" and "neither" states cannot be
// represented; call sites switch exhaustively over the three values.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
