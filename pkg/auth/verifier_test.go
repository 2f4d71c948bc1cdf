package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T, realm *testRealm, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierParams{
		Keys:     realm.keySet(t),
		Issuers:  []string{testIssuer, "http://localhost:8080/realms/ecommerce"},
		Audience: "account",
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return v
}

func TestVerifyValidTokenBuildsPrincipal(t *testing.T) {
	now := time.Now()
	realm := newTestRealm(t)
	v := newTestVerifier(t, realm, now)

	p, err := v.Verify(context.Background(), realm.sign(t, testClaims(now)))
	require.NoError(t, err)
	assert.Equal(t, "subject-1", p.SubjectID)
	assert.Equal(t, "jdoe", p.Username)
	assert.Equal(t, "jdoe@example.com", p.Email)
	assert.Equal(t, []string{"customer", "offline_access"}, p.Roles)
	assert.True(t, p.EmailVerified)
	assert.Equal(t, "sid-1", p.SessionID)
	assert.False(t, p.Internal)
}

func TestVerifyAcceptsSecondaryIssuer(t *testing.T) {
	now := time.Now()
	realm := newTestRealm(t)
	v := newTestVerifier(t, realm, now)

	claims := testClaims(now)
	claims.Issuer = "http://localhost:8080/realms/ecommerce"
	_, err := v.Verify(context.Background(), realm.sign(t, claims))
	require.NoError(t, err)
}

func TestVerifyFailureKinds(t *testing.T) {
	now := time.Now()
	realm := newTestRealm(t)
	v := newTestVerifier(t, realm, now)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  func() string
		kind   error
		reason string
	}{
		{
			name:   "missing",
			token:  func() string { return "  " },
			kind:   ErrMissingToken,
			reason: "missing_token",
		},
		{
			name:   "garbage",
			token:  func() string { return "not-a-jwt" },
			kind:   ErrMalformedToken,
			reason: "malformed_token",
		},
		{
			name: "tampered signature",
			token: func() string {
				raw := realm.sign(t, testClaims(now))
				parts := strings.Split(raw, ".")
				sig := []byte(parts[2])
				if sig[0] == 'A' {
					sig[0] = 'B'
				} else {
					sig[0] = 'A'
				}
				return parts[0] + "." + parts[1] + "." + string(sig)
			},
			kind:   ErrSignatureInvalid,
			reason: "signature_invalid",
		},
		{
			name: "foreign key",
			token: func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodRS256, testClaims(now))
				token.Header["kid"] = realm.kid
				raw, err := token.SignedString(other)
				require.NoError(t, err)
				return raw
			},
			kind:   ErrSignatureInvalid,
			reason: "signature_invalid",
		},
		{
			name: "hmac algorithm",
			token: func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims(now))
				token.Header["kid"] = realm.kid
				raw, err := token.SignedString([]byte("secret"))
				require.NoError(t, err)
				return raw
			},
			kind:   ErrSignatureInvalid,
			reason: "signature_invalid",
		},
		{
			name: "expired",
			token: func() string {
				claims := testClaims(now)
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
				return realm.sign(t, claims)
			},
			kind:   ErrExpired,
			reason: "expired",
		},
		{
			name: "wrong issuer",
			token: func() string {
				claims := testClaims(now)
				claims.Issuer = "http://evil/realms/ecommerce"
				return realm.sign(t, claims)
			},
			kind:   ErrIssuerMismatch,
			reason: "issuer_mismatch",
		},
		{
			name: "wrong audience",
			token: func() string {
				claims := testClaims(now)
				claims.Audience = jwt.ClaimStrings{"other-client"}
				return realm.sign(t, claims)
			},
			kind:   ErrAudienceMismatch,
			reason: "audience_mismatch",
		},
		{
			name: "missing subject",
			token: func() string {
				claims := testClaims(now)
				claims.Subject = ""
				return realm.sign(t, claims)
			},
			kind:   ErrMalformedToken,
			reason: "malformed_token",
		},
		{
			name: "refresh token type",
			token: func() string {
				claims := testClaims(now)
				claims.Type = "Refresh"
				return realm.sign(t, claims)
			},
			kind:   ErrMalformedToken,
			reason: "malformed_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := v.Verify(context.Background(), tt.token())
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, errors.Is(err, tt.kind), "expected %v, got %v", tt.kind, err)
			assert.Equal(t, tt.reason, Reason(err))
		})
	}
}

func TestVerifyUnknownKidDoesNotHammerJWKS(t *testing.T) {
	now := time.Now()
	realm := newTestRealm(t)
	v := newTestVerifier(t, realm, now)

	_, err := v.Verify(context.Background(), realm.sign(t, testClaims(now)))
	require.NoError(t, err)
	require.EqualValues(t, 1, realm.fetches.Load())

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, testClaims(now))
	token.Header["kid"] = "rotated"
	raw, err := token.SignedString(realm.key)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := v.Verify(context.Background(), raw)
		require.ErrorIs(t, err, ErrSignatureInvalid)
	}
	assert.EqualValues(t, 1, realm.fetches.Load())
}

func TestKeySetCoalescesConcurrentMisses(t *testing.T) {
	realm := newSlowTestRealm(t, 100*time.Millisecond)
	ks := realm.keySet(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ks.Key(context.Background(), realm.kid)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, realm.fetches.Load())

	before := realm.fetches.Load()
	_, err := ks.Key(context.Background(), realm.kid)
	require.NoError(t, err)
	assert.Equal(t, before, realm.fetches.Load(), "cached key must not refetch")
}

func TestKeySetRefreshSurvivesCancelledCaller(t *testing.T) {
	realm := newSlowTestRealm(t, 200*time.Millisecond)
	ks := realm.keySet(t)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var (
		wg       sync.WaitGroup
		shortErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shortErr = ks.Key(short, realm.kid)
	}()

	time.Sleep(10 * time.Millisecond)
	key, err := ks.Key(context.Background(), realm.kid)
	wg.Wait()

	require.NoError(t, err)
	assert.NotNil(t, key)
	assert.ErrorIs(t, shortErr, ErrKeyUnavailable)
	assert.EqualValues(t, 1, realm.fetches.Load())
}

func TestKeySetUnavailable(t *testing.T) {
	ks, err := NewKeySet(KeySetParams{URL: "http://127.0.0.1:1/certs", TTL: time.Minute})
	require.NoError(t, err)

	_, err = ks.Key(context.Background(), "kid-1")
	require.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestNewVerifierRequiresIssuer(t *testing.T) {
	realm := newTestRealm(t)
	_, err := NewVerifier(VerifierParams{Keys: realm.keySet(t), Issuers: []string{" "}})
	require.Error(t, err)
}
