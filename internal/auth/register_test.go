package auth

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/angelmondragon/storefront-user-service/internal/users"
	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvisioner struct {
	created   []keycloak.NewUser
	assigned  []enums.Role
	deleted   []string
	createErr error
	assignErr error
	deleteErr error
}

func (s *stubProvisioner) CreateUser(_ context.Context, u keycloak.NewUser) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created = append(s.created, u)
	return "sub-" + u.Username, nil
}

func (s *stubProvisioner) AssignRole(_ context.Context, _ string, role enums.Role) error {
	if s.assignErr != nil {
		return s.assignErr
	}
	s.assigned = append(s.assigned, role)
	return nil
}

func (s *stubProvisioner) DeleteUser(_ context.Context, subjectID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, subjectID)
	return nil
}

type stubMirror struct {
	created   []users.CreateUserDTO
	createErr error
}

func (s *stubMirror) Create(_ context.Context, dto users.CreateUserDTO) (*models.User, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, dto)
	user := dto.ToModel()
	user.ID = uuid.New()
	return user, nil
}

type divergenceOps struct {
	ops []string
}

func (d *divergenceOps) IncDivergence(op string) { d.ops = append(d.ops, op) }

func newStubRegister(t *testing.T, admin *stubProvisioner, mirror *stubMirror, div *divergenceOps) RegisterService {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewRegisterService(RegisterServiceParams{
		Admin:      admin,
		Users:      mirror,
		Logger:     logg,
		Divergence: users.NewDivergenceRecorder(logg, div),
	})
	require.NoError(t, err)
	return svc
}

func TestRegisterNormalizesIdentity(t *testing.T) {
	admin := &stubProvisioner{}
	mirror := &stubMirror{}
	svc := newStubRegister(t, admin, mirror, &divergenceOps{})

	req := aliceRegistration()
	req.Username = " Alice "
	req.Email = "ALICE@Test.com"
	out, err := svc.Register(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "alice", out.User.Username)
	assert.Equal(t, "alice@test.com", out.User.Email)
	require.Len(t, admin.created, 1)
	assert.Equal(t, enums.RoleCustomer, admin.created[0].Role)
	assert.Equal(t, []enums.Role{enums.RoleCustomer}, admin.assigned)
	require.Len(t, mirror.created, 1)
	assert.Equal(t, "sub-alice", mirror.created[0].KeycloakID)
}

func TestRegisterFailedCompensationIsRecorded(t *testing.T) {
	admin := &stubProvisioner{
		assignErr: &keycloak.Error{Op: "assign_role", Status: 500, Kind: keycloak.ErrUnavailable},
		deleteErr: &keycloak.Error{Op: "delete_user", Status: 500, Kind: keycloak.ErrUnavailable},
	}
	mirror := &stubMirror{}
	div := &divergenceOps{}
	svc := newStubRegister(t, admin, mirror, div)

	_, err := svc.Register(context.Background(), aliceRegistration())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, []string{"register"}, div.ops)
	assert.Empty(t, mirror.created)
}

func TestRegisterLocalFailureKeepsIdentity(t *testing.T) {
	admin := &stubProvisioner{}
	mirror := &stubMirror{createErr: errors.New("disk full")}
	div := &divergenceOps{}
	svc := newStubRegister(t, admin, mirror, div)

	_, err := svc.Register(context.Background(), aliceRegistration())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLocalPersistence))
	assert.Empty(t, admin.deleted)
	assert.Equal(t, []string{"register"}, div.ops)
}

func TestRegisterIdPUnavailable(t *testing.T) {
	admin := &stubProvisioner{createErr: &keycloak.Error{Op: "create_user", Kind: keycloak.ErrUnavailable}}
	svc := newStubRegister(t, admin, &stubMirror{}, &divergenceOps{})

	_, err := svc.Register(context.Background(), aliceRegistration())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Empty(t, admin.assigned)
}
