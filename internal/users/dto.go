package users

import (
	"strings"
	"time"

	"github.com/angelmondragon/storefront-user-service/internal/address"
	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/google/uuid"
)

// UserDTO is the mirror row in the snake_case shape of the /users/me routes.
type UserDTO struct {
	ID            uuid.UUID  `json:"id"`
	KeycloakID    string     `json:"keycloak_id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	FirstName     *string    `json:"first_name"`
	LastName      *string    `json:"last_name"`
	Phone         *string    `json:"phone"`
	IsActive      bool       `json:"is_active"`
	LastLogin     *time.Time `json:"last_login"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// UserDetailDTO adds the owned profile, addresses, and the token's roles.
type UserDetailDTO struct {
	UserDTO
	Profile   *ProfileDTO          `json:"profile"`
	Addresses []address.AddressDTO `json:"addresses"`
	Roles     []string             `json:"roles"`
}

// AdminUserDTO is the camelCase shape returned by admin routes.
type AdminUserDTO struct {
	ID            uuid.UUID  `json:"id"`
	KeycloakID    string     `json:"keycloak_id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	FirstName     *string    `json:"firstName"`
	LastName      *string    `json:"lastName"`
	Phone         *string    `json:"phone"`
	Roles         []string   `json:"roles"`
	EmailVerified bool       `json:"emailVerified"`
	Enabled       bool       `json:"enabled"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastLogin     *time.Time `json:"lastLogin"`
}

// BasicUserDTO is the minimal identity card served to other services.
type BasicUserDTO struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	KeycloakID    string
	Username      string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	Phone         *string
	IsActive      *bool
}

// FromModel maps a mirror row to its transport shape.
func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:            u.ID,
		KeycloakID:    u.KeycloakID,
		Username:      u.Username,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Phone:         u.Phone,
		IsActive:      u.IsActive,
		LastLogin:     u.LastLogin,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// DetailFromModel maps a row loaded with relations.
func DetailFromModel(u *models.User, roles []string) *UserDetailDTO {
	if u == nil {
		return nil
	}
	addresses := make([]address.AddressDTO, 0, len(u.Addresses))
	for i := range u.Addresses {
		addresses = append(addresses, address.FromModel(&u.Addresses[i]))
	}
	return &UserDetailDTO{
		UserDTO:   *FromModel(u),
		Profile:   ProfileFromModel(u.Profile),
		Addresses: addresses,
		Roles:     nonNilRoles(roles),
	}
}

// AdminFromModel maps a row and its IdP roles to the admin shape.
func AdminFromModel(u *models.User, roles []string) AdminUserDTO {
	return AdminUserDTO{
		ID:            u.ID,
		KeycloakID:    u.KeycloakID,
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Phone:         u.Phone,
		Roles:         nonNilRoles(roles),
		EmailVerified: u.EmailVerified,
		Enabled:       u.IsActive,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
		LastLogin:     u.LastLogin,
	}
}

// BasicFromModel maps a row to the service-to-service identity card.
func BasicFromModel(u *models.User) *BasicUserDTO {
	return &BasicUserDTO{
		ID:        u.KeycloakID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	isActive := true
	if c.IsActive != nil {
		isActive = *c.IsActive
	}
	return &models.User{
		KeycloakID:    c.KeycloakID,
		Username:      strings.ToLower(strings.TrimSpace(c.Username)),
		Email:         strings.ToLower(strings.TrimSpace(c.Email)),
		EmailVerified: c.EmailVerified,
		FirstName:     optionalString(c.FirstName),
		LastName:      optionalString(c.LastName),
		Phone:         c.Phone,
		IsActive:      isActive,
	}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func nonNilRoles(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
