package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const testIssuer = "http://keycloak:8080/realms/ecommerce"

type testRealm struct {
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int32
}

func newTestRealm(t *testing.T) *testRealm {
	t.Helper()
	return newSlowTestRealm(t, 0)
}

// newSlowTestRealm holds each JWKS response for delay.
func newSlowTestRealm(t *testing.T, delay time.Duration) *testRealm {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	realm := &testRealm{key: key, kid: "kid-1"}
	realm.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		realm.fetches.Add(1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &realm.key.PublicKey, KeyID: realm.kid, Algorithm: "RS256", Use: "sig"},
		}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(realm.server.Close)
	return realm
}

func (r *testRealm) keySet(t *testing.T) *KeySet {
	t.Helper()
	ks, err := NewKeySet(KeySetParams{URL: r.server.URL, HTTPClient: r.server.Client()})
	if err != nil {
		t.Fatalf("new key set: %v", err)
	}
	return ks
}

func testClaims(now time.Time) *Claims {
	return &Claims{
		Type:              "Bearer",
		PreferredUsername: "jdoe",
		Email:             "jdoe@example.com",
		EmailVerified:     true,
		GivenName:         "Jane",
		FamilyName:        "Doe",
		RealmAccess:       RealmAccess{Roles: []string{"customer", "offline_access"}},
		SessionID:         "sid-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "subject-1",
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{"account"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
}

func (r *testRealm) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = r.kid
	raw, err := token.SignedString(r.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}
