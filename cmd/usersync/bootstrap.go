package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-user-service/internal/reconcile"
	"github.com/angelmondragon/storefront-user-service/internal/users"
	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"github.com/angelmondragon/storefront-user-service/pkg/db"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"github.com/angelmondragon/storefront-user-service/pkg/metrics"
	"github.com/angelmondragon/storefront-user-service/pkg/migrate"
)

// syncRuntime holds what every subcommand needs. close releases it.
type syncRuntime struct {
	cfg       *config.Config
	logg      *logger.Logger
	db        *db.Client
	reconcile *reconcile.Service
	registry  *prometheus.Registry
}

func bootstrap(ctx context.Context) (*syncRuntime, error) {
	logg := logger.New(logger.Options{ServiceName: "usersync"})
	if err := godotenv.Load(); err != nil {
		logg.Debug(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = "usersync"

	logg = logger.New(logger.Options{
		ServiceName: "usersync",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}

	registry := prometheus.NewRegistry()
	identityMetrics := metrics.NewIdentityMetrics(registry)

	opts := []keycloak.Option{
		keycloak.WithHTTPClient(&http.Client{Timeout: cfg.Keycloak.HTTPTimeout}),
		keycloak.WithObserver(identityMetrics),
		keycloak.WithLogger(logg),
	}
	credential, err := keycloak.NewAdminCredential(cfg.Keycloak, opts...)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("keycloak admin credential: %w", err)
	}
	admin, err := keycloak.NewAdminClient(cfg.Keycloak, credential, cfg.Sync.PageSize, opts...)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("keycloak admin client: %w", err)
	}

	svc, err := reconcile.NewService(reconcile.ServiceParams{
		IdP:      admin,
		Mirror:   users.NewRepository(dbClient.DB()),
		Logger:   logg,
		Recorder: identityMetrics,
	})
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}

	return &syncRuntime{cfg: cfg, logg: logg, db: dbClient, reconcile: svc, registry: registry}, nil
}

func (r *syncRuntime) close() {
	if err := r.db.Close(); err != nil {
		r.logg.Error(context.Background(), "error closing database", err)
	}
}
