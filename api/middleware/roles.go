package middleware

import (
	"net/http"

	"github.com/angelmondragon/storefront-user-service/api/responses"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

// RequireRole admits principals carrying role. Gates compose; each one
// short-circuits on its own.
func RequireRole(role enums.Role, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, missingTokenMessage))
				return
			}
			if !principal.HasRole(role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "Insufficient permissions").
					WithDetails(map[string]any{"required_role": role.String()}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser admits end-user principals only. Internal API key callers have
// no mirror row, so self-service routes refuse them.
func RequireUser(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, missingTokenMessage))
				return
			}
			if principal.Internal {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "route requires a user token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
