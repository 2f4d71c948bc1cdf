package auth

import (
	"context"
	"slices"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/enums"
)

// Principal is the identity reconstructed from a verified token on every
// request. It is never persisted.
type Principal struct {
	SubjectID     string
	Username      string
	Email         string
	GivenName     string
	FamilyName    string
	Roles         []string
	EmailVerified bool
	SessionID     string
	ExpiresAt     time.Time
	// Internal marks a trusted service caller authenticated by API key.
	Internal bool
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role enums.Role) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Roles, string(role))
}

// ManagedRoles returns the principal's roles restricted to the managed set.
func (p *Principal) ManagedRoles() []enums.Role {
	if p == nil {
		return nil
	}
	return enums.FilterManaged(p.Roles)
}

// TokenVerifier turns a raw bearer token into a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Principal, error)
}

// InternalPrincipal returns the identity attached to internal API key callers.
func InternalPrincipal() *Principal {
	return &Principal{SubjectID: "internal-service", Username: "internal-service", Internal: true}
}
