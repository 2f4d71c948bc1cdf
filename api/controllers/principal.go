package controllers

import (
	"net/http"

	"github.com/angelmondragon/storefront-user-service/api/middleware"
	"github.com/angelmondragon/storefront-user-service/api/responses"
	pkgauth "github.com/angelmondragon/storefront-user-service/pkg/auth"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

// principalOrReject returns the authenticated principal, writing a 401 when
// the route was mounted without Auth.
func principalOrReject(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (*pkgauth.Principal, bool) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "Access token required"))
		return nil, false
	}
	return principal, true
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger, name string) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, name+" service unavailable"))
}
