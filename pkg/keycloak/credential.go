package keycloak

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// expirySkew renews the admin token slightly before the IdP would reject it.
const expirySkew = 15 * time.Second

// AdminCredential caches the master-realm admin token. Concurrent callers
// that find it missing or stale share a single acquisition.
type AdminCredential struct {
	settings
	oauth    oauth2.Config
	username string
	password string
	group    singleflight.Group

	mu    sync.RWMutex
	token *oauth2.Token
}

// NewAdminCredential builds the admin-cli password grant credential.
func NewAdminCredential(cfg config.KeycloakConfig, opts ...Option) (*AdminCredential, error) {
	if err := validateBase(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AdminUsername) == "" || cfg.AdminPassword == "" {
		return nil, fmt.Errorf("keycloak admin username and password are required")
	}
	realm := cfg.AdminRealm
	if realm == "" {
		realm = "master"
	}
	clientID := cfg.AdminClientID
	if clientID == "" {
		clientID = "admin-cli"
	}
	return &AdminCredential{
		settings: newSettings(cfg, opts),
		oauth: oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  realmEndpoint(cfg, realm, "protocol/openid-connect/token"),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
	}, nil
}

// Token returns a usable admin access token, acquiring one if needed.
func (c *AdminCredential) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if c.usable(tok) {
		return tok.AccessToken, nil
	}
	return c.acquire(ctx)
}

// Renew discards the cached token and acquires a fresh one.
func (c *AdminCredential) Renew(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
	return c.acquire(ctx)
}

// Invalidate drops the cached token if it is still the rejected one.
func (c *AdminCredential) Invalidate(rejected string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.AccessToken == rejected {
		c.token = nil
	}
}

func (c *AdminCredential) usable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.Expiry.IsZero() || c.now().Add(expirySkew).Before(tok.Expiry)
}

// acquire shares one grant between concurrent callers. The grant runs
// detached from ctx, bounded by the client timeout, so one cancelled
// request cannot fail the others waiting on it.
func (c *AdminCredential) acquire(ctx context.Context) (string, error) {
	results := c.group.DoChan("admin", func() (any, error) {
		c.mu.RLock()
		cached := c.token
		c.mu.RUnlock()
		if c.usable(cached) {
			return cached.AccessToken, nil
		}

		grantCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.grantTimeout())
		defer cancel()

		const op = "admin_token"
		start := c.now()
		tok, err := c.oauth.PasswordCredentialsToken(context.WithValue(grantCtx, oauth2.HTTPClient, c.httpClient), c.username, c.password)
		if err != nil {
			err = tokenError(op, err)
			var kerr *Error
			// a bad admin password is a credential problem, not a user grant problem
			if errors.As(err, &kerr) && kerr.Kind == ErrInvalidGrant {
				kerr.Kind = ErrUnauthorized
			}
			c.observe(op, start, err)
			return "", err
		}
		c.observe(op, start, nil)

		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		if c.logg != nil {
			c.logg.Debug(ctx, "keycloak admin credential acquired")
		}
		return tok.AccessToken, nil
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &Error{Op: "admin_token", Kind: ErrUnavailable, Err: ctx.Err()}
	}
}

func (c *AdminCredential) grantTimeout() time.Duration {
	if c.httpClient != nil && c.httpClient.Timeout > 0 {
		return c.httpClient.Timeout
	}
	return defaultTimeout
}
