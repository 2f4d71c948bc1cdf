package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-user-service/internal/users"
	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

// Registration steps, in order. A failure is reported with the last step reached.
const (
	stepIdentityCreated = "identity_created"
	stepRoleAssigned    = "role_assigned"
	stepMirrorCreated   = "mirror_created"
)

type identityProvisioner interface {
	CreateUser(ctx context.Context, u keycloak.NewUser) (string, error)
	AssignRole(ctx context.Context, subjectID string, role enums.Role) error
	DeleteUser(ctx context.Context, subjectID string) error
}

type mirrorWriter interface {
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
}

// RegisterService creates a principal at the IdP and its local mirror.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	Admin      identityProvisioner
	Users      mirrorWriter
	Logger     *logger.Logger
	Divergence *users.DivergenceRecorder
}

type registerService struct {
	admin      identityProvisioner
	users      mirrorWriter
	logg       *logger.Logger
	divergence *users.DivergenceRecorder
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.Admin == nil {
		return nil, fmt.Errorf("identity admin required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	divergence := params.Divergence
	if divergence == nil {
		divergence = users.NewDivergenceRecorder(params.Logger, nil)
	}
	return &registerService{
		admin:      params.Admin,
		users:      params.Users,
		logg:       params.Logger,
		divergence: divergence,
	}, nil
}

// Register runs create identity, assign role, create mirror. A failed role
// assignment deletes the new identity again. A failed mirror write leaves the
// identity in place for the sync job.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username and email are required")
	}
	role := enums.SelfServiceRole(req.Role)

	subjectID, err := s.admin.CreateUser(ctx, keycloak.NewUser{
		Username:  username,
		Email:     email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Password:  req.Password,
		Role:      role,
	})
	if err != nil {
		return nil, keycloak.Translate(err, "create user")
	}
	ctx = s.logg.WithSubject(ctx, subjectID, username)

	if err := s.admin.AssignRole(ctx, subjectID, role); err != nil {
		s.compensate(ctx, subjectID, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign role "+role.String())
	}

	user, err := s.users.Create(ctx, users.CreateUserDTO{
		KeycloakID: subjectID,
		Username:   username,
		Email:      email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
	})
	if err != nil {
		s.divergence.Record(ctx, users.Divergence{
			SubjectID:  subjectID,
			Operation:  "register",
			IdPState:   stepRoleAssigned,
			LocalState: "absent",
			Err:        err,
		})
		return nil, pkgerrors.Wrap(pkgerrors.CodeLocalPersistence, err, "create local user")
	}

	s.logg.Info(s.logg.WithField(ctx, "step", stepMirrorCreated), "user registered")
	return &RegisterResponse{
		Message: "User registered successfully",
		User: RegisteredUser{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
		},
	}, nil
}

// compensate removes an identity whose role assignment failed.
func (s *registerService) compensate(ctx context.Context, subjectID string, cause error) {
	s.logg.Error(s.logg.WithField(ctx, "step", stepIdentityCreated), "role assignment failed, deleting identity", cause)
	if err := s.admin.DeleteUser(ctx, subjectID); err != nil {
		s.divergence.Record(ctx, users.Divergence{
			SubjectID:  subjectID,
			Operation:  "register",
			IdPState:   stepIdentityCreated,
			LocalState: "absent",
			Err:        err,
		})
	}
}
