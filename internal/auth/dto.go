package auth

import (
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/google/uuid"
)

// RegisterRequest is the self-registration payload.
type RegisterRequest struct {
	Username  string  `json:"username" validate:"required,min=3,max=50"`
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8"`
	FirstName string  `json:"firstName" validate:"required,max=100"`
	LastName  string  `json:"lastName" validate:"required,max=100"`
	Phone     *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	// Role is customer or seller. Anything else, admin included, becomes customer.
	Role string `json:"role,omitempty"`
}

// RegisteredUser is the public part of a new mirror row.
type RegisteredUser struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

// RegisterResponse is returned with 201 on registration.
type RegisterResponse struct {
	Message string         `json:"message"`
	User    RegisteredUser `json:"user"`
}

// LoginRequest captures the credentials sent to the login endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginUser summarizes the authenticated principal.
type LoginUser struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// LoginResponse carries the IdP token pair and who it belongs to.
type LoginResponse struct {
	Message      string    `json:"message"`
	TokenType    string    `json:"token_type"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         LoginUser `json:"user"`
}

// RefreshRequest carries the refresh token to exchange.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshResponse is the new token set.
type RefreshResponse struct {
	Message string `json:"message"`
	keycloak.TokenSet
}

// LogoutRequest carries the refresh token of the session to end. It may be empty.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}
