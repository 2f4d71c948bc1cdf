// Package keycloak talks to the identity provider's token endpoint and admin API.
package keycloak

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

const (
	defaultTimeout        = 10 * time.Second
	responseBodyReadLimit = 2048
)

// CallObserver receives per-call timing; metrics.IdentityMetrics satisfies it.
type CallObserver interface {
	ObserveIdPCall(operation, outcome string, duration time.Duration)
}

type settings struct {
	httpClient *http.Client
	observer   CallObserver
	logg       *logger.Logger
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*settings)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithObserver records call latency and outcomes.
func WithObserver(observer CallObserver) Option {
	return func(s *settings) {
		s.observer = observer
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logg *logger.Logger) Option {
	return func(s *settings) {
		s.logg = logg
	}
}

func withClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(cfg config.KeycloakConfig, opts []Option) settings {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := settings{
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

func (s settings) observe(op string, start time.Time, err error) {
	if s.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = outcomeFor(err)
	}
	s.observer.ObserveIdPCall(op, outcome, s.now().Sub(start))
}

func outcomeFor(err error) string {
	var kerr *Error
	if errors.As(err, &kerr) {
		switch kerr.Kind {
		case ErrConflict:
			return "conflict"
		case ErrNotFound:
			return "not_found"
		case ErrRejected:
			return "rejected"
		case ErrUnauthorized:
			return "unauthorized"
		case ErrInvalidGrant:
			return "invalid_grant"
		}
	}
	return "unavailable"
}

func validateBase(cfg config.KeycloakConfig) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("keycloak url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return fmt.Errorf("parse keycloak url: %w", err)
	}
	if strings.TrimSpace(cfg.Realm) == "" {
		return fmt.Errorf("keycloak realm is required")
	}
	return nil
}

func realmEndpoint(cfg config.KeycloakConfig, realm, suffix string) string {
	return fmt.Sprintf("%s/realms/%s/%s", strings.TrimRight(cfg.URL, "/"), url.PathEscape(realm), strings.TrimLeft(suffix, "/"))
}

// JWKSURL returns the realm's published signing key set endpoint.
func JWKSURL(cfg config.KeycloakConfig) string {
	return realmEndpoint(cfg, cfg.Realm, "protocol/openid-connect/certs")
}
