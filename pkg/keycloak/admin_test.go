package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak/keycloaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdmin(t *testing.T, srv *keycloaktest.Server, pageSize int) (*AdminClient, *AdminCredential) {
	t.Helper()
	cred, err := NewAdminCredential(srv.Config())
	require.NoError(t, err)
	admin, err := NewAdminClient(srv.Config(), cred, pageSize)
	require.NoError(t, err)
	return admin, cred
}

func TestCreateUserReturnsSubjectID(t *testing.T) {
	srv := keycloaktest.New(t)
	admin, _ := newAdmin(t, srv, 0)
	ctx := context.Background()

	id, err := admin.CreateUser(ctx, NewUser{
		Username:  "alice",
		Email:     "alice@test.com",
		FirstName: "Alice",
		LastName:  "Liddell",
		Password:  "Secret123!",
		Role:      enums.RoleCustomer,
	})
	require.NoError(t, err)

	stored, ok := srv.User(id)
	require.True(t, ok)
	assert.Equal(t, "alice", stored.Username)
	assert.Equal(t, "Secret123!", stored.Password)
	assert.True(t, stored.Enabled)

	_, err = admin.CreateUser(ctx, NewUser{Username: "alice", Email: "other@test.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrConflict)
	_, err = admin.CreateUser(ctx, NewUser{Username: "other", Email: "alice@test.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestGetUpdateDeleteUser(t *testing.T) {
	srv := keycloaktest.New(t)
	id := seedAlice(srv)
	admin, _ := newAdmin(t, srv, 0)
	ctx := context.Background()

	u, err := admin.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice@test.com", u.Email)

	first := "Alicia"
	disabled := false
	require.NoError(t, admin.UpdateUser(ctx, id, UserUpdate{FirstName: &first, Enabled: &disabled}))
	stored, _ := srv.User(id)
	assert.Equal(t, "Alicia", stored.FirstName)
	assert.False(t, stored.Enabled)
	assert.Equal(t, "alice@test.com", stored.Email, "unset fields are untouched")

	require.NoError(t, admin.DeleteUser(ctx, id))
	require.ErrorIs(t, admin.DeleteUser(ctx, id), ErrNotFound)
	_, err = admin.GetUser(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveOnlyManagedRoleThenAssign(t *testing.T) {
	srv := keycloaktest.New(t)
	id := srv.AddUser(keycloaktest.User{Username: "sam", Email: "sam@test.com", Enabled: true, Roles: []string{"seller", "offline_access"}})
	admin, _ := newAdmin(t, srv, 0)
	ctx := context.Background()

	require.NoError(t, admin.RemoveRole(ctx, id, enums.RoleSeller))
	roles, err := admin.GetRoleMappings(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, enums.FilterManaged(roles))
	assert.Equal(t, []string{"offline_access"}, roles)

	require.NoError(t, admin.RemoveRole(ctx, id, enums.RoleSeller), "removing an absent role is a no-op")
	require.NoError(t, admin.AssignRole(ctx, id, enums.RoleCustomer))

	roles, err = admin.GetRoleMappings(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"offline_access", "customer"}, roles)
}

func TestRoleOpsRejectUnmanagedRoles(t *testing.T) {
	srv := keycloaktest.New(t)
	id := srv.AddUser(keycloaktest.User{Username: "sam", Enabled: true, Roles: []string{"offline_access"}})
	admin, _ := newAdmin(t, srv, 0)

	err := admin.RemoveRole(context.Background(), id, enums.Role("offline_access"))
	require.ErrorIs(t, err, ErrRejected)
	err = admin.AssignRole(context.Background(), id, enums.Role("realm-admin"))
	require.ErrorIs(t, err, ErrRejected)

	stored, _ := srv.User(id)
	assert.Equal(t, []string{"offline_access"}, stored.Roles)
}

func TestReplaceRoleKeepsUnmanagedRoles(t *testing.T) {
	srv := keycloaktest.New(t)
	id := srv.AddUser(keycloaktest.User{Username: "cat", Enabled: true, Roles: []string{"customer", "offline_access"}})
	admin, _ := newAdmin(t, srv, 0)

	require.NoError(t, admin.ReplaceRole(context.Background(), id, nil, enums.RoleSeller))
	stored, _ := srv.User(id)
	assert.ElementsMatch(t, []string{"offline_access", "seller"}, stored.Roles)
}

func TestReplaceRoleReportsPartialUpdate(t *testing.T) {
	srv := keycloaktest.New(t)
	id := srv.AddUser(keycloaktest.User{Username: "sam", Enabled: true, Roles: []string{"seller"}})
	admin, _ := newAdmin(t, srv, 0)

	srv.FailNext("assign_role", http.StatusInternalServerError)
	err := admin.ReplaceRole(context.Background(), id, []enums.Role{enums.RoleSeller}, enums.RoleAdmin)
	require.ErrorIs(t, err, ErrPartialRoleUpdate)

	var partial *PartialRoleUpdateError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"seller"}, partial.Removed)
	assert.Equal(t, "admin", partial.Target)
	assert.ErrorIs(t, err, ErrUnavailable)

	stored, _ := srv.User(id)
	assert.Empty(t, stored.Roles)
}

func TestReplaceRoleAddFailureWithoutRemovalIsPlainError(t *testing.T) {
	srv := keycloaktest.New(t)
	id := srv.AddUser(keycloaktest.User{Username: "new", Enabled: true})
	admin, _ := newAdmin(t, srv, 0)

	srv.FailNext("assign_role", http.StatusInternalServerError)
	err := admin.ReplaceRole(context.Background(), id, nil, enums.RoleCustomer)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, errors.Is(err, ErrPartialRoleUpdate))
}

func TestAdminRetriesOnceAfterCredentialRejected(t *testing.T) {
	srv := keycloaktest.New(t)
	id := seedAlice(srv)
	admin, _ := newAdmin(t, srv, 0)
	ctx := context.Background()

	_, err := admin.GetUser(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, srv.AdminGrants())

	_, err = admin.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.AdminGrants(), "cached credential is reused")

	srv.ExpireAdminTokens()
	_, err = admin.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.AdminGrants())
}

func TestAdminCredentialSharedAcrossConcurrentCalls(t *testing.T) {
	srv := keycloaktest.New(t)
	id := seedAlice(srv)
	admin, _ := newAdmin(t, srv, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := admin.GetRoleMappings(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, srv.AdminGrants())
}

func TestAdminCredentialSurvivesCancelledCaller(t *testing.T) {
	srv := keycloaktest.New(t)
	srv.DelayAdminGrants(200 * time.Millisecond)
	_, cred := newAdmin(t, srv, 0)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var (
		wg       sync.WaitGroup
		shortErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shortErr = cred.Token(short)
	}()

	time.Sleep(10 * time.Millisecond)
	token, err := cred.Token(context.Background())
	wg.Wait()

	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.ErrorIs(t, shortErr, ErrUnavailable)
	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	assert.Equal(t, 1, srv.AdminGrants())
}

func TestBeginBatchRenewsCredential(t *testing.T) {
	srv := keycloaktest.New(t)
	admin, _ := newAdmin(t, srv, 0)
	ctx := context.Background()

	require.NoError(t, admin.BeginBatch(ctx))
	require.NoError(t, admin.BeginBatch(ctx))
	assert.Equal(t, 2, srv.AdminGrants())
}

func TestAdminCredentialBadPassword(t *testing.T) {
	srv := keycloaktest.New(t)
	cfg := srv.Config()
	cfg.AdminPassword = "wrong"
	cred, err := NewAdminCredential(cfg)
	require.NoError(t, err)

	_, err = cred.Token(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestListAllUsersPages(t *testing.T) {
	srv := keycloaktest.New(t)
	for i := 0; i < 5; i++ {
		srv.AddUser(keycloaktest.User{Username: fmt.Sprintf("user%d", i), Enabled: true})
	}
	admin, _ := newAdmin(t, srv, 2)

	users, err := admin.ListAllUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 5)
	assert.Equal(t, "user0", users[0].Username)
}

func TestAdminUpstreamErrorsAreTyped(t *testing.T) {
	srv := keycloaktest.New(t)
	id := seedAlice(srv)
	admin, _ := newAdmin(t, srv, 0)

	srv.FailNext("get_user", http.StatusBadGateway)
	_, err := admin.GetUser(context.Background(), id)
	require.ErrorIs(t, err, ErrUnavailable)

	srv.FailNext("update_user", http.StatusBadRequest)
	name := "x"
	err = admin.UpdateUser(context.Background(), id, UserUpdate{FirstName: &name})
	require.ErrorIs(t, err, ErrRejected)
}
