package auth

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: config.AppEnvDev},
		Keycloak: config.KeycloakConfig{Enabled: false},
		Auth:     config.AuthConfig{DevBypass: true},
	}
}

func TestUnverifiedDecoderRequiresBypassSwitches(t *testing.T) {
	cfg := devConfig()
	cfg.Keycloak.Enabled = true
	_, err := NewUnverifiedDecoder(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg = devConfig()
	cfg.App.Env = config.AppEnvProd
	_, err = NewUnverifiedDecoder(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestUnverifiedDecoderAcceptsUnsignedClaims(t *testing.T) {
	dec, err := NewUnverifiedDecoder(context.Background(), devConfig(), nil)
	require.NoError(t, err)

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims(time.Now())).SignedString([]byte("anything"))
	require.NoError(t, err)

	p, err := dec.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "subject-1", p.SubjectID)
}

func TestUnverifiedDecoderStillRejectsExpired(t *testing.T) {
	dec, err := NewUnverifiedDecoder(context.Background(), devConfig(), nil)
	require.NoError(t, err)

	claims := testClaims(time.Now())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("anything"))
	require.NoError(t, err)

	_, err = dec.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrExpired)
}

func TestSessionIDFromToken(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims(time.Now())).SignedString([]byte("k"))
	require.NoError(t, err)

	sid, exp, ok := SessionIDFromToken(raw)
	require.True(t, ok)
	assert.Equal(t, "sid-1", sid)
	assert.False(t, exp.IsZero())

	_, _, ok = SessionIDFromToken("garbage")
	assert.False(t, ok)
}
