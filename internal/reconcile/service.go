// Package reconcile repairs principals that exist at the identity provider
// but have no local mirror row.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/angelmondragon/storefront-user-service/internal/users"
	"github.com/angelmondragon/storefront-user-service/pkg/db"
	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"go.uber.org/multierr"
)

type identitySource interface {
	BeginBatch(ctx context.Context) error
	ListAllUsers(ctx context.Context) ([]keycloak.User, error)
	GetRoleMappings(ctx context.Context, subjectID string) ([]string, error)
}

type mirrorStore interface {
	ListSubjectIDs(ctx context.Context) (map[string]struct{}, error)
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
}

// ResultRecorder receives the counts of each run.
type ResultRecorder interface {
	AddSyncResults(considered, synced, failed int)
}

// Options tune one run.
type Options struct {
	// DryRun reports the missing principals without writing.
	DryRun bool
}

// Failure attributes one failed principal.
type Failure struct {
	SubjectID string `json:"subject_id"`
	Username  string `json:"username"`
	Error     string `json:"error"`
}

// Synced describes one mirrored principal.
type Synced struct {
	SubjectID string   `json:"subject_id"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
}

// Summary is the outcome of a run. Considered counts every IdP principal;
// Missing those without a mirror row at the start of the run.
type Summary struct {
	DryRun     bool      `json:"dry_run"`
	Considered int       `json:"considered"`
	Missing    int       `json:"missing"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Created    []Synced  `json:"created,omitempty"`
	Failures   []Failure `json:"failures,omitempty"`
}

// ServiceParams wires a reconciliation service.
type ServiceParams struct {
	IdP      identitySource
	Mirror   mirrorStore
	Logger   *logger.Logger
	Recorder ResultRecorder
}

// Service computes IdP minus mirror and creates the difference.
type Service struct {
	idp      identitySource
	mirror   mirrorStore
	logg     *logger.Logger
	recorder ResultRecorder
}

// NewService builds a reconciliation service.
func NewService(params ServiceParams) (*Service, error) {
	if params.IdP == nil {
		return nil, fmt.Errorf("identity source required")
	}
	if params.Mirror == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		idp:      params.IdP,
		mirror:   params.Mirror,
		logg:     params.Logger,
		recorder: params.Recorder,
	}, nil
}

// Run processes missing principals one at a time. A failed principal never
// aborts the batch; the returned error combines every per-principal failure.
// Listing failures abort before anything is written.
func (s *Service) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := s.idp.BeginBatch(ctx); err != nil {
		return nil, fmt.Errorf("acquire admin credential: %w", err)
	}
	remote, err := s.idp.ListAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identity provider users: %w", err)
	}
	local, err := s.mirror.ListSubjectIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local subject ids: %w", err)
	}

	missing := difference(remote, local)
	summary := &Summary{DryRun: opts.DryRun, Considered: len(remote), Missing: len(missing)}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"considered": summary.Considered,
		"missing":    summary.Missing,
		"dry_run":    opts.DryRun,
	})
	s.logg.Info(logCtx, "user sync starting")

	var errs error
	for _, principal := range missing {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if opts.DryRun {
			summary.Created = append(summary.Created, Synced{SubjectID: principal.ID, Username: principal.Username})
			continue
		}
		synced, err := s.syncOne(ctx, principal)
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{
				SubjectID: principal.ID,
				Username:  principal.Username,
				Error:     err.Error(),
			})
			errs = multierr.Append(errs, fmt.Errorf("sync %s: %w", principal.ID, err))
			continue
		}
		summary.Synced++
		summary.Created = append(summary.Created, *synced)
	}

	if s.recorder != nil && !opts.DryRun {
		s.recorder.AddSyncResults(summary.Considered, summary.Synced, summary.Failed)
	}
	doneCtx := s.logg.WithFields(logCtx, map[string]any{
		"synced": summary.Synced,
		"failed": summary.Failed,
	})
	s.logg.Info(doneCtx, "user sync complete")
	return summary, errs
}

func (s *Service) syncOne(ctx context.Context, principal keycloak.User) (*Synced, error) {
	principalCtx := s.logg.WithSubject(ctx, principal.ID, principal.Username)
	roles, err := s.idp.GetRoleMappings(principalCtx, principal.ID)
	if err != nil {
		s.logg.Error(principalCtx, "fetch role mappings failed", err)
		return nil, fmt.Errorf("fetch roles: %w", err)
	}
	enabled := principal.Enabled
	_, err = s.mirror.Create(principalCtx, users.CreateUserDTO{
		KeycloakID:    principal.ID,
		Username:      principal.Username,
		Email:         principal.Email,
		EmailVerified: principal.EmailVerified,
		FirstName:     principal.FirstName,
		LastName:      principal.LastName,
		IsActive:      &enabled,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			err = errors.Join(ErrConflictingMirror, err)
		}
		s.logg.Error(principalCtx, "create mirror row failed", err)
		return nil, err
	}

	managed := make([]string, 0, len(roles))
	for _, role := range enums.FilterManaged(roles) {
		managed = append(managed, role.String())
	}
	s.logg.Info(s.logg.WithField(principalCtx, "roles", managed), "principal synced")
	return &Synced{SubjectID: principal.ID, Username: principal.Username, Roles: managed}, nil
}

// ErrConflictingMirror marks a principal whose username or email is already
// held by a different local row.
var ErrConflictingMirror = errors.New("username or email already mirrored under another subject")

// difference returns remote principals absent locally, ordered by username so
// reports are stable.
func difference(remote []keycloak.User, local map[string]struct{}) []keycloak.User {
	out := make([]keycloak.User, 0)
	for _, u := range remote {
		if _, ok := local[u.ID]; ok {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
