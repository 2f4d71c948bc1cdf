package models

import (
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserAddress is a postal address owned by a User. At most one row per user
// has IsDefault set.
type UserAddress struct {
	ID           uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID         `gorm:"type:uuid;column:user_id;not null;index"`
	AddressType  enums.AddressType `gorm:"column:address_type;type:text;not null;default:'shipping'"`
	IsDefault    bool              `gorm:"column:is_default;not null;default:false"`
	FullName     string            `gorm:"column:full_name;not null"`
	Phone        *string           `gorm:"column:phone"`
	AddressLine1 string            `gorm:"column:address_line1;not null"`
	AddressLine2 *string           `gorm:"column:address_line2"`
	City         string            `gorm:"column:city;not null"`
	State        *string           `gorm:"column:state"`
	PostalCode   string            `gorm:"column:postal_code;not null"`
	Country      string            `gorm:"column:country;not null"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserAddress) TableName() string { return "user_addresses" }

func (a *UserAddress) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AddressType == "" {
		a.AddressType = enums.AddressTypeShipping
	}
	return nil
}
