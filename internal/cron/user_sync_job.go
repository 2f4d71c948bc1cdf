package cron

import (
	"context"
	"errors"

	"github.com/angelmondragon/storefront-user-service/internal/reconcile"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

// UserSyncJobName labels the sync job in logs, metrics and the lock key.
const UserSyncJobName = "user-sync"

type syncRunner interface {
	Run(ctx context.Context, opts reconcile.Options) (*reconcile.Summary, error)
}

// UserSyncJob mirrors IdP principals that are missing locally.
type UserSyncJob struct {
	sync syncRunner
	logg *logger.Logger
	opts reconcile.Options
}

// NewUserSyncJob wraps a reconciliation service as a scheduled job.
func NewUserSyncJob(sync syncRunner, logg *logger.Logger, opts reconcile.Options) (*UserSyncJob, error) {
	if sync == nil {
		return nil, errors.New("reconcile service required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &UserSyncJob{sync: sync, logg: logg, opts: opts}, nil
}

func (j *UserSyncJob) Name() string { return UserSyncJobName }

// Run fails when listing fails or any principal could not be mirrored.
func (j *UserSyncJob) Run(ctx context.Context) error {
	summary, err := j.sync.Run(ctx, j.opts)
	if summary != nil {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"considered": summary.Considered,
			"missing":    summary.Missing,
			"synced":     summary.Synced,
			"failed":     summary.Failed,
		}), "user sync summary")
	}
	return err
}
