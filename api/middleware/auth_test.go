package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgauth "github.com/angelmondragon/storefront-user-service/pkg/auth"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	"github.com/angelmondragon/storefront-user-service/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	principal *pkgauth.Principal
	err       error
	calls     int
}

func (s *stubVerifier) Verify(context.Context, string) (*pkgauth.Principal, error) {
	s.calls++
	return s.principal, s.err
}

type stubRevocations struct {
	revoked map[string]bool
	err     error
}

func (s stubRevocations) IsRevoked(_ context.Context, sid string) (bool, error) {
	return s.revoked[sid], s.err
}

type stubRejections struct {
	reasons []string
}

func (s *stubRejections) IncTokenRejected(reason string) { s.reasons = append(s.reasons, reason) }

func captureHandler(seen **pkgauth.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func alicePrincipal() *pkgauth.Principal {
	return &pkgauth.Principal{SubjectID: "sub-1", Username: "alice", Roles: []string{"customer"}, SessionID: "sid-1"}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	verifier := &stubVerifier{principal: alicePrincipal()}
	metrics := &stubRejections{}
	var seen *pkgauth.Principal
	h := Auth(AuthParams{Verifier: verifier, Metrics: metrics})(captureHandler(&seen))

	rec := serve(h, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, verifier.calls)
	assert.Nil(t, seen)
	assert.Equal(t, []string{"missing_token"}, metrics.reasons)
}

func TestAuthRejectionBodyIsGeneric(t *testing.T) {
	kinds := []error{pkgauth.ErrSignatureInvalid, pkgauth.ErrExpired, pkgauth.ErrIssuerMismatch, pkgauth.ErrAudienceMismatch}
	for _, kind := range kinds {
		verifier := &stubVerifier{err: &pkgauth.VerificationError{Kind: kind}}
		metrics := &stubRejections{}
		var seen *pkgauth.Principal
		h := Auth(AuthParams{Verifier: verifier, Metrics: metrics})(captureHandler(&seen))

		rec := serve(h, map[string]string{"Authorization": "Bearer x.y.z"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		apiErr := decodeError(t, rec)
		assert.Equal(t, "Invalid or expired token", apiErr.Message)
		assert.Nil(t, apiErr.Details)
		assert.Equal(t, []string{pkgauth.Reason(verifier.err)}, metrics.reasons)
	}
}

func TestAuthKeyOutageIsDependencyError(t *testing.T) {
	verifier := &stubVerifier{err: &pkgauth.VerificationError{Kind: pkgauth.ErrKeyUnavailable, Cause: errors.New("dial tcp")}}
	var seen *pkgauth.Principal
	h := Auth(AuthParams{Verifier: verifier})(captureHandler(&seen))

	rec := serve(h, map[string]string{"Authorization": "Bearer x.y.z"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthAttachesPrincipal(t *testing.T) {
	verifier := &stubVerifier{principal: alicePrincipal()}
	var seen *pkgauth.Principal
	h := Auth(AuthParams{Verifier: verifier, Sessions: stubRevocations{}})(captureHandler(&seen))

	rec := serve(h, map[string]string{"Authorization": "Bearer good"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "sub-1", seen.SubjectID)
}

func TestAuthRejectsRevokedSession(t *testing.T) {
	verifier := &stubVerifier{principal: alicePrincipal()}
	metrics := &stubRejections{}
	var seen *pkgauth.Principal
	h := Auth(AuthParams{
		Verifier: verifier,
		Sessions: stubRevocations{revoked: map[string]bool{"sid-1": true}},
		Metrics:  metrics,
	})(captureHandler(&seen))

	rec := serve(h, map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []string{"session_revoked"}, metrics.reasons)
}

func TestAuthRevocationOutageFailsOpen(t *testing.T) {
	verifier := &stubVerifier{principal: alicePrincipal()}
	var seen *pkgauth.Principal
	h := Auth(AuthParams{Verifier: verifier, Sessions: stubRevocations{err: errors.New("redis down")}})(captureHandler(&seen))

	rec := serve(h, map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthInternalKey(t *testing.T) {
	verifier := &stubVerifier{principal: alicePrincipal()}
	var seen *pkgauth.Principal
	h := Auth(AuthParams{Verifier: verifier, InternalAPIKey: "s3cret"})(captureHandler(&seen))

	rec := serve(h, map[string]string{InternalAPIKeyHeader: "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.True(t, seen.Internal)
	assert.Zero(t, verifier.calls)

	seen = nil
	rec = serve(h, map[string]string{InternalAPIKeyHeader: "wrong", "Authorization": "Bearer good"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, seen)

	// absent header falls through to the bearer token
	rec = serve(h, map[string]string{"Authorization": "Bearer good"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, seen.Internal)
}

func TestAuthInternalKeyUnconfiguredNeverMatches(t *testing.T) {
	var seen *pkgauth.Principal
	h := Auth(AuthParams{Verifier: &stubVerifier{}})(captureHandler(&seen))

	rec := serve(h, map[string]string{InternalAPIKeyHeader: ""})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	gate := RequireRole(enums.RoleAdmin, nil)(ok)

	run := func(p *pkgauth.Principal) int {
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		if p != nil {
			req = req.WithContext(WithPrincipal(req.Context(), p))
		}
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, run(nil))
	assert.Equal(t, http.StatusForbidden, run(&pkgauth.Principal{Roles: []string{"customer"}}))
	assert.Equal(t, http.StatusNoContent, run(&pkgauth.Principal{Roles: []string{"admin", "customer"}}))
}

func TestRequireRoleComposes(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	gate := RequireRole(enums.RoleSeller, nil)(RequireRole(enums.RoleAdmin, nil)(ok))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &pkgauth.Principal{Roles: []string{"admin"}}))
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireUserRefusesInternalCallers(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	gate := RequireUser(nil)(ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), pkgauth.InternalPrincipal()))
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
