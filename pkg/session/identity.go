// Package session carries the viewer identity a console runs under. Identity
// is always passed explicitly into the components that need it; nothing in
// this module reads it from ambient process state.
package session

import "fmt"

// Role distinguishes the three console types.
type Role string

const (
	RoleExpert   Role = "expert"
	RoleFarmer   Role = "farmer"
	RoleOperator Role = "operator"
)

// Identity identifies the user a console is acting for.
type Identity struct {
	UserID      string
	Role        Role
	DisplayName string
}

// Valid reports whether the identity is usable for scoping listeners and
// fetchers. An invalid identity must never be used to start a subscription.
func (id Identity) Valid() bool {
	return id.UserID != "" && id.Role != ""
}

// Validate returns a descriptive error for invalid identities.
func (id Identity) Validate() error {
	if id.UserID == "" {
		return fmt.Errorf("session: identity missing user id")
	}
	switch id.Role {
	case RoleExpert, RoleFarmer, RoleOperator:
		return nil
	default:
		return fmt.Errorf("session: unknown role %q", id.Role)
	}
}

func (id Identity) String() string {
	return string(id.Role) + ":" + id.UserID
}
