package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User mirrors an identity-provider principal. KeycloakID is the join key
// between the two systems of record and never changes once written.
type User struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	KeycloakID    string     `gorm:"column:keycloak_id;type:text;not null;uniqueIndex"`
	Username      string     `gorm:"column:username;type:text;not null;uniqueIndex"`
	Email         string     `gorm:"column:email;type:text;not null;uniqueIndex"`
	EmailVerified bool       `gorm:"column:email_verified;not null;default:false"`
	FirstName     *string    `gorm:"column:first_name"`
	LastName      *string    `gorm:"column:last_name"`
	Phone         *string    `gorm:"column:phone"`
	IsActive      bool       `gorm:"column:is_active;not null"`
	LastLogin     *time.Time `gorm:"column:last_login"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Profile   *UserProfile  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Addresses []UserAddress `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (User) TableName() string { return "users" }

// BeforeCreate assigns the primary key client-side so non-Postgres drivers work too.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
