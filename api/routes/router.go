package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-user-service/api/controllers"
	"github.com/angelmondragon/storefront-user-service/api/middleware"
	"github.com/angelmondragon/storefront-user-service/internal/address"
	"github.com/angelmondragon/storefront-user-service/internal/auth"
	"github.com/angelmondragon/storefront-user-service/internal/users"
	pkgauth "github.com/angelmondragon/storefront-user-service/pkg/auth"
	"github.com/angelmondragon/storefront-user-service/pkg/auth/session"
	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"github.com/angelmondragon/storefront-user-service/pkg/db"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"github.com/angelmondragon/storefront-user-service/pkg/metrics"
	"github.com/angelmondragon/storefront-user-service/pkg/redis"
)

// Params carries everything the HTTP surface depends on. Redis, Sessions,
// Metrics and Gatherer are optional; without Redis the auth rate limits are
// disabled.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    *redis.Client
	Verifier pkgauth.TokenVerifier
	Sessions session.RevocationChecker
	Metrics  *metrics.IdentityMetrics
	Gatherer prometheus.Gatherer

	Auth     auth.Service
	Register auth.RegisterService
	Users    users.Service
	Address  address.Service
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	readiness := map[string]controllers.Pinger{}
	if p.DB != nil {
		readiness["database"] = p.DB
	}
	if p.Redis != nil {
		readiness["redis"] = p.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, readiness))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	loginLimit := rateLimit(p.Redis, logg, middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginIdentityLimit,
	))
	registerLimit := rateLimit(p.Redis, logg, middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterIdentityLimit,
	))

	authenticate := middleware.Auth(middleware.AuthParams{
		Verifier:       p.Verifier,
		Sessions:       p.Sessions,
		Metrics:        p.Metrics,
		Logger:         logg,
		InternalAPIKey: cfg.Auth.InternalAPIKey,
	})

	prefix := cfg.App.APIPrefix
	if prefix == "" {
		prefix = "/"
	}

	r.Route(prefix, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(registerLimit).Post("/register", controllers.AuthRegister(p.Register, logg))
			r.With(loginLimit).Post("/login", controllers.AuthLogin(p.Auth, logg))
			r.Post("/refresh", controllers.AuthRefresh(p.Auth, logg))
			r.Post("/logout", controllers.AuthLogout(p.Auth, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/users/internal/{subjectId}/basic", controllers.UsersBasicInfo(p.Users, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser(logg))

				r.Route("/users/me", func(r chi.Router) {
					r.Get("/", controllers.UsersMe(p.Users, logg))
					r.Put("/", controllers.UsersUpdateMe(p.Users, logg))
					r.Delete("/", controllers.UsersDeleteMe(p.Users, logg))
				})

				r.Route("/profile", func(r chi.Router) {
					r.Get("/", controllers.ProfileGet(p.Users, logg))
					r.Put("/", controllers.ProfileUpdate(p.Users, logg))
					r.Route("/addresses", func(r chi.Router) {
						r.Get("/", controllers.AddressList(p.Address, logg))
						r.Post("/", controllers.AddressCreate(p.Address, logg))
						r.Put("/{addressId}", controllers.AddressUpdate(p.Address, logg))
						r.Delete("/{addressId}", controllers.AddressDelete(p.Address, logg))
						r.Put("/{addressId}/default", controllers.AddressSetDefault(p.Address, logg))
					})
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enums.RoleAdmin, logg))

				r.Get("/users", controllers.AdminListUsers(p.Users, logg))
				r.Route("/users/{id}", func(r chi.Router) {
					r.Get("/", controllers.AdminGetUser(p.Users, logg))
					r.Put("/", controllers.AdminUpdateUser(p.Users, logg))
					r.Delete("/", controllers.AdminDeleteUser(p.Users, logg))
					r.Post("/roles", controllers.AdminAssignRole(p.Users, logg))
					r.Delete("/roles/{role}", controllers.AdminRemoveRole(p.Users, logg))
				})
			})
		})
	})

	return r
}

func rateLimit(client *redis.Client, logg *logger.Logger, policy middleware.AuthRateLimitPolicy) func(http.Handler) http.Handler {
	if client == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.AuthRateLimit(policy, client, logg)
}
