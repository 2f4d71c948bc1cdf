package controllers

import (
	"net/http"

	"github.com/angelmondragon/storefront-user-service/api/responses"
	"github.com/angelmondragon/storefront-user-service/api/validators"
	"github.com/angelmondragon/storefront-user-service/internal/users"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

func ProfileGet(svc users.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "users")
			return
		}
		principal, ok := principalOrReject(w, r, logg)
		if !ok {
			return
		}
		profile, err := svc.Profile(r.Context(), principal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"profile": profile})
	}
}

// ProfileUpdate creates the profile on first write.
func ProfileUpdate(svc users.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "users")
			return
		}
		principal, ok := principalOrReject(w, r, logg)
		if !ok {
			return
		}
		var body users.UpdateProfileRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		profile, err := svc.UpdateProfile(r.Context(), principal, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"message": "Profile updated successfully", "profile": profile})
	}
}
