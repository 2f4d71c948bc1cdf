package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
)

// UnverifiedDecoder reads token claims without checking the signature. It
// exists for local development against a stopped identity provider and can
// only be built when the configuration explicitly allows it.
type UnverifiedDecoder struct {
	logg *logger.Logger
	now  func() time.Time
}

// NewUnverifiedDecoder refuses to build unless every dev bypass switch is set.
func NewUnverifiedDecoder(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*UnverifiedDecoder, error) {
	if !cfg.DevBypassActive() {
		return nil, fmt.Errorf("unverified token decoding requires %s=%s, %s=false and %s=true",
			config.EnvAppEnv, config.AppEnvDev, config.EnvKeycloakEnabled, config.EnvAuthDevBypass)
	}
	if logg != nil {
		logg.Warn(ctx, "AUTH DEV BYPASS ACTIVE: token signatures are NOT verified")
	}
	return &UnverifiedDecoder{logg: logg, now: time.Now}, nil
}

// Verify decodes claims and still enforces expiry and required fields.
func (d *UnverifiedDecoder) Verify(ctx context.Context, raw string) (*Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newVerificationError(ErrMissingToken, nil)
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, newVerificationError(ErrMalformedToken, err)
	}
	if err := claims.validateRequired(); err != nil {
		return nil, newVerificationError(ErrMalformedToken, err)
	}
	if d.now().After(claims.ExpiresAt.Time) {
		return nil, newVerificationError(ErrExpired, nil)
	}
	if d.logg != nil {
		d.logg.Warn(d.logg.WithSubject(ctx, claims.Subject, claims.PreferredUsername), "request authenticated with unverified token")
	}
	return claims.Principal(), nil
}

// SessionIDFromToken extracts the sid claim without verifying the token.
// Callers must only use it for best-effort revocation bookkeeping.
func SessionIDFromToken(raw string) (sid string, expiresAt time.Time, ok bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return "", time.Time{}, false
	}
	if claims.SessionID == "" {
		return "", time.Time{}, false
	}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return claims.SessionID, expiresAt, true
}
