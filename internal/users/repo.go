package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	dbtypes "github.com/angelmondragon/storefront-user-service/pkg/db/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes the local user mirror.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a user and its empty profile in one transaction.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Profile", "Addresses").Create(user).Error; err != nil {
			return err
		}
		profile := &models.UserProfile{UserID: user.ID, Preferences: dbtypes.JSONMap{}}
		if err := tx.Create(profile).Error; err != nil {
			return err
		}
		user.Profile = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID loads a user by local id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByIDWithRelations loads a user with profile and addresses.
func (r *Repository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.withRelations(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindOrNoneBySubjectID returns the mirror row for an IdP subject, or nil when
// the principal has not been synchronized yet.
func (r *Repository) FindOrNoneBySubjectID(ctx context.Context, subjectID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("keycloak_id = ?", subjectID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindBySubjectIDWithRelations is FindOrNoneBySubjectID plus profile and addresses.
func (r *Repository) FindBySubjectIDWithRelations(ctx context.Context, subjectID string) (*models.User, error) {
	var user models.User
	err := r.withRelations(ctx).Where("keycloak_id = ?", subjectID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) withRelations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Profile").
		Preload("Addresses", func(db *gorm.DB) *gorm.DB {
			return db.Order("is_default DESC").Order("created_at DESC")
		})
}

// UpdateLastLogin stamps last_login for the subject. It reports false when no
// mirror row exists.
func (r *Repository) UpdateLastLogin(ctx context.Context, subjectID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("keycloak_id = ?", subjectID).
		UpdateColumn("last_login", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Update applies column changes to one user. keycloak_id can never be set.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	delete(fields, "keycloak_id")
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a user with its profile and addresses.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.UserAddress{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.UserProfile{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ListParams filters and pages the admin listing.
type ListParams struct {
	Offset int
	Limit  int
	Search string
}

// List returns one page of users, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, params ListParams) ([]models.User, int64, error) {
	filter := searchScope(params.Search)

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.User
	if err := r.db.WithContext(ctx).
		Scopes(filter).
		Preload("Profile").
		Order("created_at DESC").
		Order("id").
		Offset(params.Offset).
		Limit(params.Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// searchScope matches term case-insensitively against name and contact columns.
func searchScope(term string) func(*gorm.DB) *gorm.DB {
	term = strings.TrimSpace(term)
	return func(db *gorm.DB) *gorm.DB {
		if term == "" {
			return db
		}
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		return db.Where(
			`LOWER(username) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\' OR LOWER(first_name) LIKE ? ESCAPE '\' OR LOWER(last_name) LIKE ? ESCAPE '\'`,
			pattern, pattern, pattern, pattern,
		)
	}
}

// ListSubjectIDs returns every subject id already mirrored locally.
func (r *Repository) ListSubjectIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.User{}).Pluck("keycloak_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}
