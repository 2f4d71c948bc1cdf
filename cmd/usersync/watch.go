package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/storefront-user-service/internal/cron"
	"github.com/angelmondragon/storefront-user-service/internal/reconcile"
	"github.com/angelmondragon/storefront-user-service/pkg/metrics"
	"github.com/angelmondragon/storefront-user-service/pkg/redis"
)

func newWatchCmd() *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reconcile on an interval, one replica at a time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			redisClient, err := redis.New(ctx, rt.cfg.Redis, rt.logg)
			if err != nil {
				return err
			}
			defer func() {
				if err := redisClient.Close(); err != nil {
					rt.logg.Error(context.Background(), "error closing redis", err)
				}
			}()

			lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.UserSyncJobName), rt.cfg.Sync.LockTTL)
			if err != nil {
				return err
			}
			job, err := cron.NewUserSyncJob(rt.reconcile, rt.logg, reconcile.Options{})
			if err != nil {
				return err
			}
			registry, err := cron.NewRegistry(job)
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = rt.cfg.Sync.Interval
			}
			svc, err := cron.NewService(cron.ServiceParams{
				Logger:   rt.logg,
				Registry: registry,
				Lock:     lock,
				Metrics:  metrics.NewCronJobMetrics(rt.registry),
				Interval: interval,
			})
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				server := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						rt.logg.Error(ctx, "metrics server stopped", err)
					}
				}()
				defer server.Close()
			}

			rt.logg.Info(rt.logg.WithField(ctx, "interval", svc.Interval().String()), "user sync watch started")
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			rt.logg.Info(ctx, "user sync watch stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between passes (defaults to STOREFRONT_SYNC_INTERVAL)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	return cmd
}
