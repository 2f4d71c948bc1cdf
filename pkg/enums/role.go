package enums

import (
	"fmt"
	"strings"
)

// Role is an application-level realm role managed by this service.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// DefaultRole is assigned when a registration names no managed role.
const DefaultRole = RoleCustomer

var managedRoles = []Role{
	RoleCustomer,
	RoleSeller,
	RoleAdmin,
}

// ManagedRoles returns the closed set of roles this service may assign or remove.
func ManagedRoles() []Role {
	out := make([]Role, len(managedRoles))
	copy(out, managedRoles)
	return out
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a managed Role.
func (r Role) IsValid() bool {
	for _, candidate := range managedRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a managed Role.
func ParseRole(value string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range managedRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}

// RoleOrDefault returns the parsed role, or DefaultRole when value is empty or unmanaged.
func RoleOrDefault(value string) Role {
	if role, err := ParseRole(value); err == nil {
		return role
	}
	return DefaultRole
}

// SelfServiceRole is RoleOrDefault limited to the roles an anonymous caller
// may pick for themselves. Admin falls back to DefaultRole.
func SelfServiceRole(value string) Role {
	role := RoleOrDefault(value)
	if role == RoleAdmin {
		return DefaultRole
	}
	return role
}

// FilterManaged keeps only managed role names, preserving order and dropping duplicates.
func FilterManaged(names []string) []Role {
	seen := map[Role]struct{}{}
	out := []Role{}
	for _, name := range names {
		role := Role(name)
		if !role.IsValid() {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
