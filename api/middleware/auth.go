package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-user-service/api/responses"
	"github.com/angelmondragon/storefront-user-service/api/validators"
	pkgauth "github.com/angelmondragon/storefront-user-service/pkg/auth"
	"github.com/angelmondragon/storefront-user-service/pkg/auth/session"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

// InternalAPIKeyHeader authenticates trusted service-to-service callers.
const InternalAPIKeyHeader = "X-Internal-API-Key"

const (
	missingTokenMessage = "Access token required"
	invalidTokenMessage = "Invalid or expired token"
	reasonRevoked       = "session_revoked"
)

type rejectionCounter interface {
	IncTokenRejected(reason string)
}

// AuthParams configures the Auth middleware. Sessions, Metrics and
// InternalAPIKey are optional.
type AuthParams struct {
	Verifier       pkgauth.TokenVerifier
	Sessions       session.RevocationChecker
	Metrics        rejectionCounter
	Logger         *logger.Logger
	InternalAPIKey string
}

// Auth attaches a Principal to the request or rejects it. A matching
// internal API key short-circuits token verification; a wrong key is
// refused outright; no key at all falls through to the bearer token.
func Auth(params AuthParams) func(http.Handler) http.Handler {
	logg := params.Logger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if key, present := internalKey(r); present {
				if !params.internalKeyMatches(key) {
					params.reject(r, "internal_key_mismatch")
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "Invalid internal API key"))
					return
				}
				ctx = WithPrincipal(ctx, pkgauth.InternalPrincipal())
				if logg != nil {
					ctx = logg.WithField(ctx, "caller", "internal")
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, ok := validators.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				params.reject(r, pkgauth.Reason(&pkgauth.VerificationError{Kind: pkgauth.ErrMissingToken}))
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, missingTokenMessage))
				return
			}

			principal, err := params.Verifier.Verify(ctx, token)
			if err != nil {
				reason := pkgauth.Reason(err)
				params.reject(r, reason)
				if errors.Is(err, pkgauth.ErrKeyUnavailable) {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "identity provider unavailable"))
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, invalidTokenMessage))
				return
			}

			if params.revoked(r, principal) {
				params.reject(r, reasonRevoked)
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidTokenMessage))
				return
			}

			ctx = WithPrincipal(ctx, principal)
			if logg != nil {
				ctx = logg.WithSubject(ctx, principal.SubjectID, principal.Username)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func internalKey(r *http.Request) (string, bool) {
	values, present := r.Header[http.CanonicalHeaderKey(InternalAPIKeyHeader)]
	if !present || len(values) == 0 {
		return "", false
	}
	return strings.TrimSpace(values[0]), true
}

func (p AuthParams) internalKeyMatches(key string) bool {
	if p.InternalAPIKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(p.InternalAPIKey)) == 1
}

// revoked fails open: a projection outage must not lock every user out.
func (p AuthParams) revoked(r *http.Request, principal *pkgauth.Principal) bool {
	if p.Sessions == nil || principal.SessionID == "" {
		return false
	}
	revoked, err := p.Sessions.IsRevoked(r.Context(), principal.SessionID)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Error(p.Logger.WithField(r.Context(), "sid", principal.SessionID), "session revocation check failed", err)
		}
		return false
	}
	return revoked
}

func (p AuthParams) reject(r *http.Request, reason string) {
	if p.Metrics != nil {
		p.Metrics.IncTokenRejected(reason)
	}
	if p.Logger != nil {
		ctx := p.Logger.WithFields(r.Context(), map[string]any{
			"event":  "auth.token_rejected",
			"reason": reason,
		})
		p.Logger.Warn(ctx, "bearer token rejected")
	}
}
