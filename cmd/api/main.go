package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-user-service/api/routes"
	"github.com/angelmondragon/storefront-user-service/internal/address"
	"github.com/angelmondragon/storefront-user-service/internal/auth"
	"github.com/angelmondragon/storefront-user-service/internal/users"
	pkgauth "github.com/angelmondragon/storefront-user-service/pkg/auth"
	"github.com/angelmondragon/storefront-user-service/pkg/auth/session"
	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"github.com/angelmondragon/storefront-user-service/pkg/db"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"github.com/angelmondragon/storefront-user-service/pkg/metrics"
	"github.com/angelmondragon/storefront-user-service/pkg/migrate"
	"github.com/angelmondragon/storefront-user-service/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	identityMetrics := metrics.NewIdentityMetrics(registry)

	idpHTTP := &http.Client{Timeout: cfg.Keycloak.HTTPTimeout}
	kcOpts := []keycloak.Option{
		keycloak.WithHTTPClient(idpHTTP),
		keycloak.WithObserver(identityMetrics),
		keycloak.WithLogger(logg),
	}
	tokens, err := keycloak.NewTokenClient(cfg.Keycloak, kcOpts...)
	if err != nil {
		logg.Error(ctx, "failed to create keycloak token client", err)
		os.Exit(1)
	}
	credential, err := keycloak.NewAdminCredential(cfg.Keycloak, kcOpts...)
	if err != nil {
		logg.Error(ctx, "failed to create keycloak admin credential", err)
		os.Exit(1)
	}
	admin, err := keycloak.NewAdminClient(cfg.Keycloak, credential, cfg.Sync.PageSize, kcOpts...)
	if err != nil {
		logg.Error(ctx, "failed to create keycloak admin client", err)
		os.Exit(1)
	}

	verifier, err := buildVerifier(ctx, cfg, logg, idpHTTP)
	if err != nil {
		logg.Error(ctx, "failed to create token verifier", err)
		os.Exit(1)
	}

	sessions, err := session.NewManager(redisClient)
	if err != nil {
		logg.Error(ctx, "failed to create session manager", err)
		os.Exit(1)
	}

	repo := users.NewRepository(dbClient.DB())
	divergence := users.NewDivergenceRecorder(logg, identityMetrics)

	userService, err := users.NewService(users.ServiceParams{
		Repo:       repo,
		Admin:      admin,
		Logger:     logg,
		Divergence: divergence,
	})
	if err != nil {
		logg.Error(ctx, "failed to create users service", err)
		os.Exit(1)
	}
	addressService, err := address.NewService(dbClient.DB(), repo)
	if err != nil {
		logg.Error(ctx, "failed to create address service", err)
		os.Exit(1)
	}
	registerService, err := auth.NewRegisterService(auth.RegisterServiceParams{
		Admin:      admin,
		Users:      repo,
		Logger:     logg,
		Divergence: divergence,
	})
	if err != nil {
		logg.Error(ctx, "failed to create register service", err)
		os.Exit(1)
	}
	authService, err := auth.NewService(auth.ServiceParams{
		Tokens:   tokens,
		Verifier: verifier,
		Users:    repo,
		Sessions: sessions,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create auth service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"addr":   addr,
		"prefix": cfg.App.APIPrefix,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisClient,
			Verifier: verifier,
			Sessions: sessions,
			Metrics:  identityMetrics,
			Gatherer: registry,
			Auth:     authService,
			Register: registerService,
			Users:    userService,
			Address:  addressService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(serverCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(serverCtx, "graceful shutdown failed", err)
		}
	}
}

// buildVerifier returns the JWKS verifier, or the unverified decoder when
// every dev bypass switch is set.
func buildVerifier(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *http.Client) (pkgauth.TokenVerifier, error) {
	if cfg.DevBypassActive() {
		return pkgauth.NewUnverifiedDecoder(logg.WithField(ctx, "event", "auth.dev_bypass.enabled"), cfg, logg)
	}
	keys, err := pkgauth.NewKeySet(pkgauth.KeySetParams{
		URL:        keycloak.JWKSURL(cfg.Keycloak),
		HTTPClient: client,
		TTL:        cfg.Keycloak.JWKSCacheTTL,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	return pkgauth.NewVerifier(pkgauth.VerifierParams{
		Keys:     keys,
		Issuers:  cfg.Keycloak.Issuers(),
		Audience: cfg.Keycloak.Audience,
	})
}
