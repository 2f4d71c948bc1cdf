package address

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads and writes user addresses. Bind it to a transaction handle
// when several calls must commit together.
type Repository struct {
	db *gorm.DB
}

// NewRepository returns a repository bound to the provided GORM handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListByUser returns the user's addresses, default first, newest next.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.UserAddress, error) {
	var rows []models.UserAddress
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindOwned loads one address scoped to its owner.
func (r *Repository) FindOwned(ctx context.Context, userID, id uuid.UUID) (*models.UserAddress, error) {
	var row models.UserAddress
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Create inserts an address.
func (r *Repository) Create(ctx context.Context, address *models.UserAddress) error {
	return r.db.WithContext(ctx).Create(address).Error
}

// Update applies column changes to an owned address.
func (r *Repository) Update(ctx context.Context, userID, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.UserAddress{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearDefault unsets is_default on every address of the user except keep.
// Pass uuid.Nil to clear all of them.
func (r *Repository) ClearDefault(ctx context.Context, userID, keep uuid.UUID) error {
	q := r.db.WithContext(ctx).
		Model(&models.UserAddress{}).
		Where("user_id = ? AND is_default = ?", userID, true)
	if keep != uuid.Nil {
		q = q.Where("id <> ?", keep)
	}
	return q.UpdateColumn("is_default", false).Error
}

// Delete removes an owned address.
func (r *Repository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.UserAddress{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
