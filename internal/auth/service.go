package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgauth "github.com/angelmondragon/storefront-user-service/pkg/auth"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/angelmondragon/storefront-user-service/pkg/keycloak"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

const (
	invalidCredentialsMessage = "Invalid username or password"
	invalidRefreshMessage     = "Invalid or expired refresh token"
	logoutMessage             = "Logout successful"
)

// Service defines the token lifecycle used by the auth controller.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Refresh(ctx context.Context, req RefreshRequest) (*RefreshResponse, error)
	Logout(ctx context.Context, req LogoutRequest) *MessageResponse
}

type tokenIssuer interface {
	PasswordGrant(ctx context.Context, username, password string) (*keycloak.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*keycloak.TokenSet, error)
	Logout(ctx context.Context, refreshToken string) error
}

type loginRecorder interface {
	UpdateLastLogin(ctx context.Context, subjectID string, at time.Time) (bool, error)
}

type sessionRevoker interface {
	Revoke(ctx context.Context, sid string, expiresAt time.Time) error
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	Tokens   tokenIssuer
	Verifier pkgauth.TokenVerifier
	Users    loginRecorder
	// Sessions is optional; without it logout only reaches the IdP.
	Sessions sessionRevoker
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	tokens   tokenIssuer
	verifier pkgauth.TokenVerifier
	users    loginRecorder
	sessions sessionRevoker
	logg     *logger.Logger
	now      func() time.Time
}

// NewService constructs the token lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tokens == nil {
		return nil, fmt.Errorf("token client is required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tokens:   params.Tokens,
		verifier: params.Verifier,
		users:    params.Users,
		sessions: params.Sessions,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	tokens, err := s.tokens.PasswordGrant(ctx, username, req.Password)
	if err != nil {
		if errors.Is(err, keycloak.ErrInvalidGrant) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, invalidCredentialsMessage)
		}
		return nil, keycloak.Translate(err, "login")
	}

	principal, err := s.verifier.Verify(ctx, tokens.AccessToken)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "reason", pkgauth.Reason(err)), "issued access token failed verification", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "identity provider issued an unverifiable token")
	}
	ctx = s.logg.WithSubject(ctx, principal.SubjectID, principal.Username)

	s.recordLogin(ctx, principal.SubjectID)

	return &LoginResponse{
		Message:      "Login successful",
		TokenType:    tokens.TokenType,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
		User: LoginUser{
			ID:       principal.SubjectID,
			Username: principal.Username,
			Email:    principal.Email,
			Roles:    principal.Roles,
		},
	}, nil
}

// recordLogin stamps last_login. Failures never fail the login.
func (s *service) recordLogin(ctx context.Context, subjectID string) {
	found, err := s.users.UpdateLastLogin(ctx, subjectID, s.now().UTC())
	switch {
	case err != nil:
		s.logg.Error(ctx, "update last login failed", err)
	case !found:
		s.logg.Warn(ctx, "login for principal without local mirror")
	default:
		s.logg.Info(ctx, "user logged in")
	}
}

func (s *service) Refresh(ctx context.Context, req RefreshRequest) (*RefreshResponse, error) {
	if strings.TrimSpace(req.RefreshToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Refresh token is required")
	}
	tokens, err := s.tokens.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, keycloak.ErrInvalidGrant) || errors.Is(err, keycloak.ErrRejected) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, invalidRefreshMessage)
		}
		return nil, keycloak.Translate(err, "refresh token")
	}
	return &RefreshResponse{Message: "Token refreshed successfully", TokenSet: *tokens}, nil
}

// Logout always succeeds. The session is marked revoked locally before the
// IdP is asked to end it, so an IdP outage cannot block the local effect.
// The sid is read without a signature check; only the IdP call ends the
// session itself.
func (s *service) Logout(ctx context.Context, req LogoutRequest) *MessageResponse {
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		return &MessageResponse{Message: logoutMessage}
	}

	if sid, expiresAt, ok := pkgauth.SessionIDFromToken(refreshToken); ok && s.sessions != nil {
		sidCtx := s.logg.WithField(ctx, "sid", sid)
		if err := s.sessions.Revoke(ctx, sid, expiresAt); err != nil {
			s.logg.Error(sidCtx, "session revocation failed", err)
		}
	}

	if err := s.tokens.Logout(ctx, refreshToken); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "identity provider logout failed")
	}
	return &MessageResponse{Message: logoutMessage}
}
