package entities

import "fmt"

type Role string

const (
	RoleClient Role = "client"
	RoleStaff  Role = "staff"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

// ParseRole rejects role names outside the closed set.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleClient, RoleStaff, RoleOwner, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoleSet is resolved once when the request is authenticated.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Roles  RoleSet
}

func (a Actor) IsAdmin() bool {
	return a.Roles.Has(RoleAdmin)
}

// System is used for transitions performed by background jobs.
var System = Actor{}
