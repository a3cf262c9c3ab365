package actor

import (
	"fmt"

	"github.com/gofrs/uuid"
)

// Role is the closed set of marketplace actor roles. Branching on a role
// must go through a switch over these constants so that adding a role is
// a compile-visible change, not a scattered string comparison.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRetailer   Role = "retailer"
	RoleWholesaler Role = "wholesaler"
)

func (r Role) String() string {
	return string(r)
}

// ParseRole maps the identity provider's role string onto the closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RoleRetailer, RoleWholesaler:
		return Role(s), nil
	default:
		return "", fmt.Errorf("actor: unknown role %q", s)
	}
}

// Actor is the authenticated identity acting on an order. It is supplied
// by the session provider and treated as opaque beyond (id, role).
type Actor struct {
	ID   uuid.UUID
	Role Role
}
