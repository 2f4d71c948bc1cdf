package models

import (
	"time"

	dbtypes "github.com/angelmondragon/storefront-user-service/pkg/db/types"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserProfile holds optional demographic and preference data, 1:1 with User.
type UserProfile struct {
	ID                   uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID       `gorm:"type:uuid;column:user_id;not null;uniqueIndex"`
	AvatarURL            *string         `gorm:"column:avatar_url"`
	DateOfBirth          *time.Time      `gorm:"column:date_of_birth;type:date"`
	Gender               *enums.Gender   `gorm:"column:gender;type:text"`
	Bio                  *string         `gorm:"column:bio"`
	Preferences          dbtypes.JSONMap `gorm:"column:preferences;type:jsonb;not null;default:'{}'"`
	NewsletterSubscribed bool            `gorm:"column:newsletter_subscribed;not null;default:false"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserProfile) TableName() string { return "user_profiles" }

func (p *UserProfile) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Preferences == nil {
		p.Preferences = dbtypes.JSONMap{}
	}
	return nil
}
