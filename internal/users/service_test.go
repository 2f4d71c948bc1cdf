package users

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/angelmondragon/storefront-user-service/pkg/auth"
	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	mu        sync.Mutex
	roles     map[string][]string
	updates   []keycloak.UserUpdate
	deleted   []string
	replaced  []enums.Role
	updateErr error
	deleteErr error
	roleErr   error
	rolesErr  map[string]error
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{roles: map[string][]string{}, rolesErr: map[string]error{}}
}

func (f *fakeAdmin) UpdateUser(_ context.Context, _ string, upd keycloak.UserUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, upd)
	return nil
}

func (f *fakeAdmin) DeleteUser(_ context.Context, subjectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, subjectID)
	return nil
}

func (f *fakeAdmin) GetRoleMappings(_ context.Context, subjectID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.rolesErr[subjectID]; err != nil {
		return nil, err
	}
	return append([]string(nil), f.roles[subjectID]...), nil
}

func (f *fakeAdmin) AssignRole(_ context.Context, subjectID string, role enums.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return f.roleErr
	}
	f.roles[subjectID] = append(f.roles[subjectID], role.String())
	return nil
}

func (f *fakeAdmin) RemoveRole(_ context.Context, subjectID string, role enums.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return f.roleErr
	}
	kept := f.roles[subjectID][:0]
	for _, r := range f.roles[subjectID] {
		if r != role.String() {
			kept = append(kept, r)
		}
	}
	f.roles[subjectID] = kept
	return nil
}

func (f *fakeAdmin) ReplaceRole(_ context.Context, subjectID string, _ []enums.Role, newRole enums.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return f.roleErr
	}
	f.replaced = append(f.replaced, newRole)
	f.roles[subjectID] = []string{newRole.String()}
	return nil
}

type countingDivergence struct {
	mu  sync.Mutex
	ops []string
}

func (c *countingDivergence) IncDivergence(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, operation)
}

type serviceFixture struct {
	svc        Service
	repo       *Repository
	admin      *fakeAdmin
	divergence *countingDivergence
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	repo, _ := newTestRepo(t)
	admin := newFakeAdmin()
	counter := &countingDivergence{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repo:       repo,
		Admin:      admin,
		Logger:     logg,
		Divergence: NewDivergenceRecorder(logg, counter),
	})
	require.NoError(t, err)
	return serviceFixture{svc: svc, repo: repo, admin: admin, divergence: counter}
}

func principalFor(subjectID string, roles ...string) *auth.Principal {
	return &auth.Principal{SubjectID: subjectID, Username: "alice", Roles: roles}
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	assert.Equal(t, code, typed.Code())
}

func TestMeReturnsDetailWithTokenRoles(t *testing.T) {
	f := newServiceFixture(t)
	createUser(t, f.repo, "sub-alice", "alice")

	me, err := f.svc.Me(context.Background(), principalFor("sub-alice", "customer", "offline_access"))
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, []string{"customer", "offline_access"}, me.Roles)
	assert.NotNil(t, me.Profile)
	assert.NotNil(t, me.Addresses)
}

func TestMeUnsyncedPrincipal(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Me(context.Background(), principalFor("sub-ghost"))
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestUpdateMeWritesIdPThenLocal(t *testing.T) {
	f := newServiceFixture(t)
	createUser(t, f.repo, "sub-alice", "alice")

	first := "Alicia"
	email := "Alicia@Test.com"
	phone := "555-0100"
	updated, err := f.svc.UpdateMe(context.Background(), principalFor("sub-alice"), UpdateMeRequest{
		FirstName: &first,
		Email:     &email,
		Phone:     &phone,
	})
	require.NoError(t, err)
	assert.Equal(t, "alicia@test.com", updated.Email)
	require.NotNil(t, updated.FirstName)
	assert.Equal(t, "Alicia", *updated.FirstName)
	require.NotNil(t, updated.Phone)
	assert.Equal(t, "555-0100", *updated.Phone)

	require.Len(t, f.admin.updates, 1)
	assert.Nil(t, f.admin.updates[0].LastName)
	assert.Equal(t, "alicia@test.com", *f.admin.updates[0].Email)
}

func TestUpdateMeSurfacesIdPFailureWithoutLocalWrite(t *testing.T) {
	f := newServiceFixture(t)
	createUser(t, f.repo, "sub-alice", "alice")
	f.admin.updateErr = &keycloak.Error{Op: "update_user", Status: 409, Kind: keycloak.ErrConflict}

	email := "bob@test.com"
	_, err := f.svc.UpdateMe(context.Background(), principalFor("sub-alice"), UpdateMeRequest{Email: &email})
	requireCode(t, err, pkgerrors.CodeConflict)

	user, err := f.repo.FindOrNoneBySubjectID(context.Background(), "sub-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@test.com", user.Email)
}

func TestListAttachesRolesAndToleratesRoleFailure(t *testing.T) {
	f := newServiceFixture(t)
	createUser(t, f.repo, "sub-a", "anna")
	createUser(t, f.repo, "sub-b", "bert")
	f.admin.roles["sub-a"] = []string{"admin", "customer"}
	f.admin.rolesErr["sub-b"] = errors.New("boom")

	res, err := f.svc.List(context.Background(), ListInput{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Users, 2)
	assert.Equal(t, int64(2), res.Pagination.Total)
	assert.Equal(t, 1, res.Pagination.Pages)

	byName := map[string]AdminUserDTO{}
	for _, u := range res.Users {
		byName[u.Username] = u
	}
	assert.Equal(t, []string{"admin", "customer"}, byName["anna"].Roles)
	assert.Equal(t, []string{}, byName["bert"].Roles)
}

func TestGetUnknownUser(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Get(context.Background(), uuid.New())
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestAdminUpdateRejectsUnmanagedRoleBeforeIdP(t *testing.T) {
	f := newServiceFixture(t)
	user := createUser(t, f.repo, "sub-alice", "alice")

	role := "realm-admin"
	_, err := f.svc.AdminUpdate(context.Background(), user.ID, AdminUpdateRequest{Role: &role})
	requireCode(t, err, pkgerrors.CodeValidation)
	assert.Empty(t, f.admin.updates)
}

func TestAdminUpdateReplacesRoleAndDisables(t *testing.T) {
	f := newServiceFixture(t)
	user := createUser(t, f.repo, "sub-alice", "alice")
	f.admin.roles["sub-alice"] = []string{"customer"}

	role := "Seller"
	enabled := false
	updated, err := f.svc.AdminUpdate(context.Background(), user.ID, AdminUpdateRequest{Role: &role, Enabled: &enabled})
	require.NoError(t, err)
	assert.Equal(t, []string{"seller"}, updated.Roles)
	assert.False(t, updated.Enabled)
	assert.Equal(t, []enums.Role{enums.RoleSeller}, f.admin.replaced)
}

func TestAdminUpdatePartialRoleUpdateIsRecorded(t *testing.T) {
	f := newServiceFixture(t)
	user := createUser(t, f.repo, "sub-alice", "alice")
	f.admin.roleErr = &keycloak.PartialRoleUpdateError{
		SubjectID: "sub-alice",
		Removed:   []string{"customer"},
		Target:    "seller",
		Err:       keycloak.ErrUnavailable,
	}

	role := "seller"
	_, err := f.svc.AdminUpdate(context.Background(), user.ID, AdminUpdateRequest{Role: &role})
	requireCode(t, err, pkgerrors.CodePartialRoleUpdate)
	assert.Equal(t, []string{"replace_role"}, f.divergence.ops)
}

func TestAdminDeleteTreatsMissingIdPUserAsDeleted(t *testing.T) {
	f := newServiceFixture(t)
	user := createUser(t, f.repo, "sub-alice", "alice")
	f.admin.deleteErr = &keycloak.Error{Op: "delete_user", Status: 404, Kind: keycloak.ErrNotFound}

	require.NoError(t, f.svc.AdminDelete(context.Background(), user.ID))

	gone, err := f.repo.FindOrNoneBySubjectID(context.Background(), "sub-alice")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDeleteMeKeepsLocalRowWhenIdPFails(t *testing.T) {
	f := newServiceFixture(t)
	createUser(t, f.repo, "sub-alice", "alice")
	f.admin.deleteErr = &keycloak.Error{Op: "delete_user", Status: 503, Kind: keycloak.ErrUnavailable}

	err := f.svc.DeleteMe(context.Background(), principalFor("sub-alice"))
	requireCode(t, err, pkgerrors.CodeDependency)

	still, err := f.repo.FindOrNoneBySubjectID(context.Background(), "sub-alice")
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestAssignAndRemoveRole(t *testing.T) {
	f := newServiceFixture(t)
	user := createUser(t, f.repo, "sub-alice", "alice")
	ctx := context.Background()

	_, err := f.svc.AssignRole(ctx, user.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, []string{"seller"}, f.admin.roles["sub-alice"])

	_, err = f.svc.RemoveRole(ctx, user.ID, "seller")
	require.NoError(t, err)
	assert.Empty(t, f.admin.roles["sub-alice"])

	_, err = f.svc.AssignRole(ctx, user.ID, "offline_access")
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestBasicInfoUsesSubjectID(t *testing.T) {
	f := newServiceFixture(t)
	createUser(t, f.repo, "sub-alice", "alice")

	basic, err := f.svc.BasicInfo(context.Background(), "sub-alice")
	require.NoError(t, err)
	assert.Equal(t, "sub-alice", basic.ID)
	assert.Equal(t, "alice@test.com", basic.Email)

	_, err = f.svc.BasicInfo(context.Background(), "sub-ghost")
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestUpdateProfileCreatesMissingProfile(t *testing.T) {
	f := newServiceFixture(t)
	user := createUser(t, f.repo, "sub-alice", "alice")
	ctx := context.Background()
	require.NoError(t, f.repo.db.Where("user_id = ?", user.ID).Delete(&models.UserProfile{}).Error)

	missing, err := f.svc.Profile(ctx, principalFor("sub-alice"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	bio := "hello"
	dob := "1990-05-17"
	gender := "female"
	subscribed := true
	profile, err := f.svc.UpdateProfile(ctx, principalFor("sub-alice"), UpdateProfileRequest{
		Bio:                  &bio,
		DateOfBirth:          &dob,
		Gender:               &gender,
		NewsletterSubscribed: &subscribed,
	})
	require.NoError(t, err)
	require.NotNil(t, profile.Bio)
	assert.Equal(t, "hello", *profile.Bio)
	require.NotNil(t, profile.DateOfBirth)
	assert.Equal(t, "1990-05-17", *profile.DateOfBirth)
	assert.True(t, profile.NewsletterSubscribed)

	again, err := f.svc.Profile(ctx, principalFor("sub-alice"))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, profile.ID, again.ID)
}
