package address

import (
	"context"
	"testing"

	"github.com/angelmondragon/storefront-user-service/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubLookup struct {
	db *gorm.DB
}

func (s stubLookup) FindOrNoneBySubjectID(ctx context.Context, subjectID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("keycloak_id = ?", subjectID).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(conn, stubLookup{db: conn})
	require.NoError(t, err)
	return svc, conn
}

func seedUser(t *testing.T, conn *gorm.DB, subjectID, username string) *models.User {
	t.Helper()
	user := &models.User{
		KeycloakID: subjectID,
		Username:   username,
		Email:      username + "@test.com",
		IsActive:   true,
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

func homeAddress(isDefault bool) CreateAddressRequest {
	return CreateAddressRequest{
		IsDefault:    isDefault,
		FullName:     "Alice Example",
		AddressLine1: "1 Main St",
		City:         "Springfield",
		PostalCode:   "12345",
		Country:      "US",
	}
}

func defaults(t *testing.T, conn *gorm.DB, userID uuid.UUID) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	require.NoError(t, conn.Model(&models.UserAddress{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Pluck("id", &ids).Error)
	return ids
}

func TestCreateDefaultsToShipping(t *testing.T) {
	svc, conn := newTestService(t)
	seedUser(t, conn, "sub-alice", "alice")

	created, err := svc.Create(context.Background(), "sub-alice", homeAddress(false))
	require.NoError(t, err)
	assert.Equal(t, enums.AddressTypeShipping, created.AddressType)
	assert.False(t, created.IsDefault)
	assert.NotEqual(t, uuid.Nil, created.ID)
}

func TestCreateDefaultClearsPreviousDefault(t *testing.T) {
	svc, conn := newTestService(t)
	user := seedUser(t, conn, "sub-alice", "alice")
	ctx := context.Background()

	first, err := svc.Create(ctx, "sub-alice", homeAddress(true))
	require.NoError(t, err)
	second, err := svc.Create(ctx, "sub-alice", homeAddress(true))
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{second.ID}, defaults(t, conn, user.ID))

	list, err := svc.List(ctx, "sub-alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.False(t, list[1].IsDefault)
}

func TestSetDefaultMovesTheFlag(t *testing.T) {
	svc, conn := newTestService(t)
	user := seedUser(t, conn, "sub-alice", "alice")
	ctx := context.Background()

	a, err := svc.Create(ctx, "sub-alice", homeAddress(true))
	require.NoError(t, err)
	b, err := svc.Create(ctx, "sub-alice", homeAddress(false))
	require.NoError(t, err)

	updated, err := svc.SetDefault(ctx, "sub-alice", b.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, []uuid.UUID{b.ID}, defaults(t, conn, user.ID))

	// setting the current default again is a no-op
	_, err = svc.SetDefault(ctx, "sub-alice", b.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, defaults(t, conn, user.ID))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestUpdateAppliesFieldsAndDefault(t *testing.T) {
	svc, conn := newTestService(t)
	user := seedUser(t, conn, "sub-alice", "alice")
	ctx := context.Background()

	a, err := svc.Create(ctx, "sub-alice", homeAddress(true))
	require.NoError(t, err)
	b, err := svc.Create(ctx, "sub-alice", homeAddress(false))
	require.NoError(t, err)

	city := "Shelbyville"
	makeDefault := true
	updated, err := svc.Update(ctx, "sub-alice", b.ID, UpdateAddressRequest{City: &city, IsDefault: &makeDefault})
	require.NoError(t, err)
	assert.Equal(t, "Shelbyville", updated.City)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, []uuid.UUID{b.ID}, defaults(t, conn, user.ID))

	unset := false
	updated, err = svc.Update(ctx, "sub-alice", b.ID, UpdateAddressRequest{IsDefault: &unset})
	require.NoError(t, err)
	assert.False(t, updated.IsDefault)
	assert.Empty(t, defaults(t, conn, user.ID))
	assert.NotEqual(t, a.ID, updated.ID)
}

func TestAddressesAreScopedToOwner(t *testing.T) {
	svc, conn := newTestService(t)
	seedUser(t, conn, "sub-alice", "alice")
	seedUser(t, conn, "sub-bob", "bob")
	ctx := context.Background()

	mine, err := svc.Create(ctx, "sub-alice", homeAddress(false))
	require.NoError(t, err)

	city := "Elsewhere"
	_, err = svc.Update(ctx, "sub-bob", mine.ID, UpdateAddressRequest{City: &city})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	err = svc.Delete(ctx, "sub-bob", mine.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.SetDefault(ctx, "sub-bob", mine.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, svc.Delete(ctx, "sub-alice", mine.ID))
	list, err := svc.List(ctx, "sub-alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnsyncedPrincipalIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.List(context.Background(), "sub-ghost")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
	assert.Equal(t, "user not found", typed.Message())
}
