// Package session keeps the local projection of identity-provider sessions
// that were ended through this service's logout.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	redisclient "github.com/angelmondragon/storefront-user-service/pkg/redis"
)

const (
	// DefaultRevocationTTL applies when the refresh token carries no expiry.
	DefaultRevocationTTL = 24 * time.Hour
	maxRevocationTTL     = 30 * 24 * time.Hour
	revokedMarker        = "1"
)

type revocationStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

type revocationKeyer interface {
	RevokedSessionKey(sid string) string
}

// Manager records revoked session ids so access tokens minted for a logged
// out session stop working before they expire.
type Manager struct {
	store revocationStore
	keyer revocationKeyer
	now   func() time.Time
}

// RevocationChecker exposes the read-only surface needed by middleware.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, sid string) (bool, error)
}

// NewManager constructs a session manager backed by Redis.
func NewManager(client *redisclient.Client) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Manager{store: client, keyer: client, now: time.Now}, nil
}

// Revoke marks sid revoked until expiresAt, bounded to a sane window.
func (m *Manager) Revoke(ctx context.Context, sid string, expiresAt time.Time) error {
	if strings.TrimSpace(sid) == "" {
		return fmt.Errorf("session id is required")
	}
	return m.store.Set(ctx, m.keyer.RevokedSessionKey(sid), revokedMarker, m.ttlUntil(expiresAt))
}

// IsRevoked reports whether sid was ended by logout.
func (m *Manager) IsRevoked(ctx context.Context, sid string) (bool, error) {
	if strings.TrimSpace(sid) == "" {
		return false, nil
	}
	return m.store.Exists(ctx, m.keyer.RevokedSessionKey(sid))
}

func (m *Manager) ttlUntil(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return DefaultRevocationTTL
	}
	ttl := expiresAt.Sub(m.now())
	switch {
	case ttl <= 0:
		// keep a short marker so in-flight access tokens still fail
		return time.Minute
	case ttl > maxRevocationTTL:
		return maxRevocationTTL
	default:
		return ttl
	}
}
