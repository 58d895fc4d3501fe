// Package identity turns bearer tokens into the actor performing an
// operation. Accounts themselves are owned by the user service; this package
// only trusts the id and role carried in a signed token.
package identity

import "errors"

// Role is the marketplace role of an account.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
)

// ErrInvalidRole is returned for a role outside the known set.
var ErrInvalidRole = errors.New("invalid role")

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRequester, RoleProvider, RoleAdmin:
		return Role(s), nil
	default:
		return "", ErrInvalidRole
	}
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
