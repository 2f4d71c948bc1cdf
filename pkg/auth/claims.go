package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RealmAccess is Keycloak's realm role container.
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// Claims is the strict mapping of the access-token fields this service reads.
type Claims struct {
	Type              string      `json:"typ,omitempty"`
	PreferredUsername string      `json:"preferred_username"`
	Email             string      `json:"email,omitempty"`
	EmailVerified     bool        `json:"email_verified"`
	GivenName         string      `json:"given_name,omitempty"`
	FamilyName        string      `json:"family_name,omitempty"`
	RealmAccess       RealmAccess `json:"realm_access"`
	SessionID         string      `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// validateRequired rejects tokens that lack the identity fields a Principal needs.
func (c *Claims) validateRequired() error {
	var missing []string
	if strings.TrimSpace(c.Subject) == "" {
		missing = append(missing, "sub")
	}
	if strings.TrimSpace(c.PreferredUsername) == "" {
		missing = append(missing, "preferred_username")
	}
	if c.ExpiresAt == nil {
		missing = append(missing, "exp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required claims: %s", strings.Join(missing, ", "))
	}
	if c.Type != "" && !strings.EqualFold(c.Type, "Bearer") {
		return fmt.Errorf("unexpected token type %q", c.Type)
	}
	return nil
}

// Principal maps verified claims into the per-request identity.
func (c *Claims) Principal() *Principal {
	roles := make([]string, len(c.RealmAccess.Roles))
	copy(roles, c.RealmAccess.Roles)
	p := &Principal{
		SubjectID:     c.Subject,
		Username:      c.PreferredUsername,
		Email:         c.Email,
		GivenName:     c.GivenName,
		FamilyName:    c.FamilyName,
		Roles:         roles,
		EmailVerified: c.EmailVerified,
		SessionID:     c.SessionID,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}
