package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-user-service/pkg/auth"
	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"github.com/angelmondragon/storefront-user-service/pkg/pagination"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// roleFetchConcurrency bounds parallel role-mapping lookups while listing.
const roleFetchConcurrency = 8

// IdentityAdmin is the subset of the IdP admin API the user service drives.
type IdentityAdmin interface {
	UpdateUser(ctx context.Context, subjectID string, upd keycloak.UserUpdate) error
	DeleteUser(ctx context.Context, subjectID string) error
	GetRoleMappings(ctx context.Context, subjectID string) ([]string, error)
	AssignRole(ctx context.Context, subjectID string, role enums.Role) error
	RemoveRole(ctx context.Context, subjectID string, role enums.Role) error
	ReplaceRole(ctx context.Context, subjectID string, oldRoles []enums.Role, newRole enums.Role) error
}

// UpdateMeRequest is the body of PUT /users/me.
type UpdateMeRequest struct {
	FirstName *string `json:"firstName" validate:"omitempty,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	Email     *string `json:"email" validate:"omitempty,email"`
}

// AdminUpdateRequest is the body of PUT /users/{id}.
type AdminUpdateRequest struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=50"`
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"firstName" validate:"omitempty,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	Enabled   *bool   `json:"enabled"`
	Role      *string `json:"role"`
}

// ListInput pages and filters the admin listing.
type ListInput struct {
	Page   int
	Limit  int
	Search string
}

// ListResult is one page of admin users.
type ListResult struct {
	Users      []AdminUserDTO  `json:"users"`
	Pagination pagination.Meta `json:"pagination"`
}

// Service exposes self-service and admin user operations.
type Service interface {
	Me(ctx context.Context, principal *auth.Principal) (*UserDetailDTO, error)
	UpdateMe(ctx context.Context, principal *auth.Principal, input UpdateMeRequest) (*UserDTO, error)
	DeleteMe(ctx context.Context, principal *auth.Principal) error
	BasicInfo(ctx context.Context, subjectID string) (*BasicUserDTO, error)
	Profile(ctx context.Context, principal *auth.Principal) (*ProfileDTO, error)
	UpdateProfile(ctx context.Context, principal *auth.Principal, input UpdateProfileRequest) (*ProfileDTO, error)

	List(ctx context.Context, input ListInput) (*ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (*AdminUserDTO, error)
	AdminUpdate(ctx context.Context, id uuid.UUID, input AdminUpdateRequest) (*AdminUserDTO, error)
	AdminDelete(ctx context.Context, id uuid.UUID) error
	AssignRole(ctx context.Context, id uuid.UUID, role string) (*UserDTO, error)
	RemoveRole(ctx context.Context, id uuid.UUID, role string) (*UserDTO, error)
}

// ServiceParams wires the user service.
type ServiceParams struct {
	Repo       *Repository
	Admin      IdentityAdmin
	Logger     *logger.Logger
	Divergence *DivergenceRecorder
}

type service struct {
	repo       *Repository
	admin      IdentityAdmin
	logg       *logger.Logger
	divergence *DivergenceRecorder
}

// NewService builds the user service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Admin == nil {
		return nil, fmt.Errorf("identity admin required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	divergence := params.Divergence
	if divergence == nil {
		divergence = NewDivergenceRecorder(params.Logger, nil)
	}
	return &service{
		repo:       params.Repo,
		admin:      params.Admin,
		logg:       params.Logger,
		divergence: divergence,
	}, nil
}

func (s *service) Me(ctx context.Context, principal *auth.Principal) (*UserDetailDTO, error) {
	user, err := s.repo.FindBySubjectIDWithRelations(ctx, principal.SubjectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user == nil {
		return nil, errUserNotFound()
	}
	return DetailFromModel(user, principal.Roles), nil
}

func (s *service) UpdateMe(ctx context.Context, principal *auth.Principal, input UpdateMeRequest) (*UserDTO, error) {
	user, err := s.bySubject(ctx, principal.SubjectID)
	if err != nil {
		return nil, err
	}

	upd := keycloak.UserUpdate{
		FirstName: nonBlank(input.FirstName),
		LastName:  nonBlank(input.LastName),
		Email:     lowered(input.Email),
	}
	if err := s.admin.UpdateUser(ctx, user.KeycloakID, upd); err != nil {
		return nil, keycloak.Translate(err, "update user")
	}

	fields := map[string]any{}
	setColumn(fields, "first_name", upd.FirstName)
	setColumn(fields, "last_name", upd.LastName)
	setColumn(fields, "email", upd.Email)
	setColumn(fields, "phone", nonBlank(input.Phone))
	if err := s.persistUpdate(ctx, user, "update_user", fields); err != nil {
		return nil, err
	}
	return s.reload(ctx, user.ID)
}

func (s *service) DeleteMe(ctx context.Context, principal *auth.Principal) error {
	user, err := s.bySubject(ctx, principal.SubjectID)
	if err != nil {
		return err
	}
	return s.delete(ctx, user)
}

func (s *service) BasicInfo(ctx context.Context, subjectID string) (*BasicUserDTO, error) {
	user, err := s.bySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return BasicFromModel(user), nil
}

func (s *service) Profile(ctx context.Context, principal *auth.Principal) (*ProfileDTO, error) {
	user, err := s.bySubject(ctx, principal.SubjectID)
	if err != nil {
		return nil, err
	}
	profile, err := s.repo.FindProfile(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	return ProfileFromModel(profile), nil
}

func (s *service) UpdateProfile(ctx context.Context, principal *auth.Principal, input UpdateProfileRequest) (*ProfileDTO, error) {
	user, err := s.bySubject(ctx, principal.SubjectID)
	if err != nil {
		return nil, err
	}
	profile, err := s.repo.FindProfile(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	if profile == nil {
		profile = &models.UserProfile{UserID: user.ID}
	}
	if err := input.apply(profile); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid profile")
	}
	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save profile")
	}
	return ProfileFromModel(profile), nil
}

func (s *service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	params := pagination.Params{Page: input.Page, Limit: input.Limit}.Normalize()
	rows, total, err := s.repo.List(ctx, ListParams{
		Offset: params.Offset(),
		Limit:  params.Limit,
		Search: input.Search,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users")
	}

	out := make([]AdminUserDTO, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(roleFetchConcurrency)
	for i := range rows {
		i := i
		g.Go(func() error {
			out[i] = AdminFromModel(&rows[i], s.rolesOrEmpty(gctx, &rows[i]))
			return nil
		})
	}
	_ = g.Wait()

	return &ListResult{Users: out, Pagination: pagination.NewMeta(params, total)}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*AdminUserDTO, error) {
	user, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := AdminFromModel(user, s.rolesOrEmpty(ctx, user))
	return &dto, nil
}

func (s *service) AdminUpdate(ctx context.Context, id uuid.UUID, input AdminUpdateRequest) (*AdminUserDTO, error) {
	var newRole enums.Role
	if input.Role != nil && strings.TrimSpace(*input.Role) != "" {
		role, err := enums.ParseRole(*input.Role)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "role must be one of customer, seller, admin")
		}
		newRole = role
	}

	user, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}

	upd := keycloak.UserUpdate{
		Username:  lowered(input.Username),
		Email:     lowered(input.Email),
		FirstName: nonBlank(input.FirstName),
		LastName:  nonBlank(input.LastName),
		Enabled:   input.Enabled,
	}
	if err := s.admin.UpdateUser(ctx, user.KeycloakID, upd); err != nil {
		return nil, keycloak.Translate(err, "update user")
	}

	if newRole != "" {
		if err := s.admin.ReplaceRole(ctx, user.KeycloakID, nil, newRole); err != nil {
			var partial *keycloak.PartialRoleUpdateError
			if errors.As(err, &partial) {
				s.divergence.Record(ctx, Divergence{
					SubjectID:  user.KeycloakID,
					Operation:  "replace_role",
					IdPState:   "managed roles removed, " + newRole.String() + " not assigned",
					LocalState: "unchanged",
					Err:        err,
				})
			}
			return nil, keycloak.Translate(err, "update user role")
		}
	}

	fields := map[string]any{}
	setColumn(fields, "username", upd.Username)
	setColumn(fields, "email", upd.Email)
	setColumn(fields, "first_name", upd.FirstName)
	setColumn(fields, "last_name", upd.LastName)
	setColumn(fields, "phone", nonBlank(input.Phone))
	if input.Enabled != nil {
		fields["is_active"] = *input.Enabled
	}
	if err := s.persistUpdate(ctx, user, "update_user", fields); err != nil {
		return nil, err
	}

	updated, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := AdminFromModel(updated, s.rolesOrEmpty(ctx, updated))
	return &dto, nil
}

func (s *service) AdminDelete(ctx context.Context, id uuid.UUID) error {
	user, err := s.byID(ctx, id)
	if err != nil {
		return err
	}
	return s.delete(ctx, user)
}

func (s *service) AssignRole(ctx context.Context, id uuid.UUID, role string) (*UserDTO, error) {
	parsed, user, err := s.roleTarget(ctx, id, role)
	if err != nil {
		return nil, err
	}
	if err := s.admin.AssignRole(ctx, user.KeycloakID, parsed); err != nil {
		return nil, keycloak.Translate(err, "assign role")
	}
	return FromModel(user), nil
}

func (s *service) RemoveRole(ctx context.Context, id uuid.UUID, role string) (*UserDTO, error) {
	parsed, user, err := s.roleTarget(ctx, id, role)
	if err != nil {
		return nil, err
	}
	if err := s.admin.RemoveRole(ctx, user.KeycloakID, parsed); err != nil {
		return nil, keycloak.Translate(err, "remove role")
	}
	return FromModel(user), nil
}

func (s *service) roleTarget(ctx context.Context, id uuid.UUID, role string) (enums.Role, *models.User, error) {
	parsed, err := enums.ParseRole(role)
	if err != nil {
		return "", nil, pkgerrors.New(pkgerrors.CodeValidation, "role must be one of customer, seller, admin")
	}
	user, err := s.byID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return parsed, user, nil
}

// delete removes the principal at the IdP first. An IdP that no longer knows
// the subject counts as already deleted.
func (s *service) delete(ctx context.Context, user *models.User) error {
	if err := s.admin.DeleteUser(ctx, user.KeycloakID); err != nil && !errors.Is(err, keycloak.ErrNotFound) {
		return keycloak.Translate(err, "delete user")
	}
	if err := s.repo.Delete(ctx, user.ID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.divergence.Record(ctx, Divergence{
			SubjectID:  user.KeycloakID,
			Operation:  "delete_user",
			IdPState:   "deleted",
			LocalState: "present",
			Err:        err,
		})
		return pkgerrors.Wrap(pkgerrors.CodeLocalPersistence, err, "delete local user")
	}
	return nil
}

func (s *service) persistUpdate(ctx context.Context, user *models.User, op string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.repo.Update(ctx, user.ID, fields); err != nil {
		s.divergence.Record(ctx, Divergence{
			SubjectID:  user.KeycloakID,
			Operation:  op,
			IdPState:   "updated",
			LocalState: "stale",
			Err:        err,
		})
		return pkgerrors.Wrap(pkgerrors.CodeLocalPersistence, err, "update local user")
	}
	return nil
}

func (s *service) rolesOrEmpty(ctx context.Context, user *models.User) []string {
	roles, err := s.admin.GetRoleMappings(ctx, user.KeycloakID)
	if err != nil {
		logCtx := s.logg.WithSubject(ctx, user.KeycloakID, user.Username)
		s.logg.Error(logCtx, "fetch role mappings failed", err)
		return []string{}
	}
	return roles
}

func (s *service) reload(ctx context.Context, id uuid.UUID) (*UserDTO, error) {
	user, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromModel(user), nil
}

func (s *service) bySubject(ctx context.Context, subjectID string) (*models.User, error) {
	user, err := s.repo.FindOrNoneBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user == nil {
		return nil, errUserNotFound()
	}
	return user, nil
}

func (s *service) byID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errUserNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return user, nil
}

func errUserNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
}

func setColumn(fields map[string]any, column string, v *string) {
	if v != nil {
		fields[column] = *v
	}
}

func nonBlank(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func lowered(v *string) *string {
	s := nonBlank(v)
	if s == nil {
		return nil
	}
	l := strings.ToLower(*s)
	return &l
}
