package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	Keycloak      KeycloakConfig
	Auth          AuthConfig
	AuthRateLimit AuthRateLimitConfig
	Sync          SyncConfig
	FeatureFlags  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations that must never reach a running process.
func (c *Config) Validate() error {
	if c.Auth.DevBypass && c.App.IsProd() {
		return fmt.Errorf("%s cannot be enabled when %s=%s", EnvAuthDevBypass, EnvAppEnv, c.App.Env)
	}
	if c.Keycloak.Enabled {
		if strings.TrimSpace(c.Keycloak.URL) == "" {
			return fmt.Errorf("%s is required when keycloak is enabled", EnvKeycloakURL)
		}
		if strings.TrimSpace(c.Keycloak.Realm) == "" {
			return fmt.Errorf("%s is required when keycloak is enabled", EnvKeycloakRealm)
		}
	}
	return nil
}

// DevBypassActive reports whether unverified token decoding is allowed. All
// three switches must agree: keycloak disabled, dev environment, explicit opt-in.
func (c *Config) DevBypassActive() bool {
	if c == nil {
		return false
	}
	return !c.Keycloak.Enabled && c.App.IsDev() && c.Auth.DevBypass
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	APIPrefix    string `envconfig:"STOREFRONT_API_PREFIX" default:"/api"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	AllowedOrigins []string `envconfig:"STOREFRONT_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type KeycloakConfig struct {
	Enabled       bool          `envconfig:"STOREFRONT_KEYCLOAK_ENABLED" default:"true"`
	URL           string        `envconfig:"STOREFRONT_KEYCLOAK_URL"`
	PublicURL     string        `envconfig:"STOREFRONT_KEYCLOAK_PUBLIC_URL"`
	Realm         string        `envconfig:"STOREFRONT_KEYCLOAK_REALM" default:"ecommerce"`
	ClientID      string        `envconfig:"STOREFRONT_KEYCLOAK_CLIENT_ID" default:"user-service"`
	ClientSecret  string        `envconfig:"STOREFRONT_KEYCLOAK_CLIENT_SECRET"`
	AdminRealm    string        `envconfig:"STOREFRONT_KEYCLOAK_ADMIN_REALM" default:"master"`
	AdminClientID string        `envconfig:"STOREFRONT_KEYCLOAK_ADMIN_CLIENT_ID" default:"admin-cli"`
	AdminUsername string        `envconfig:"STOREFRONT_KEYCLOAK_ADMIN_USERNAME" default:"admin"`
	AdminPassword string        `envconfig:"STOREFRONT_KEYCLOAK_ADMIN_PASSWORD"`
	Audience      string        `envconfig:"STOREFRONT_KEYCLOAK_AUDIENCE" default:"account"`
	ExtraIssuers  []string      `envconfig:"STOREFRONT_KEYCLOAK_EXTRA_ISSUERS"`
	JWKSCacheTTL  time.Duration `envconfig:"STOREFRONT_KEYCLOAK_JWKS_CACHE_TTL" default:"10m"`
	HTTPTimeout   time.Duration `envconfig:"STOREFRONT_KEYCLOAK_HTTP_TIMEOUT" default:"10s"`
}

// RealmURL returns the base URL of the application realm.
func (k KeycloakConfig) RealmURL() string {
	return realmURL(k.URL, k.Realm)
}

// Issuers lists every issuer string a token may carry. Keycloak stamps the
// hostname it was reached through, so the internal and public names both count.
func (k KeycloakConfig) Issuers() []string {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(v string) {
		v = strings.TrimRight(strings.TrimSpace(v), "/")
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if k.URL != "" {
		add(k.RealmURL())
	}
	if k.PublicURL != "" {
		add(realmURL(k.PublicURL, k.Realm))
	}
	for _, iss := range k.ExtraIssuers {
		add(iss)
	}
	return out
}

func realmURL(base, realm string) string {
	return fmt.Sprintf("%s/realms/%s", strings.TrimRight(base, "/"), url.PathEscape(realm))
}

type AuthConfig struct {
	InternalAPIKey string `envconfig:"STOREFRONT_INTERNAL_API_KEY"`
	SessionSecret  string `envconfig:"STOREFRONT_SESSION_SECRET"`
	DevBypass      bool   `envconfig:"STOREFRONT_AUTH_DEV_BYPASS" default:"false"`
}

type AuthRateLimitConfig struct {
	LoginWindow           time.Duration `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginIdentityLimit    int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_IDENTITY_LIMIT" default:"5"`
	LoginIPLimit          int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow        time.Duration `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterIdentityLimit int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_REGISTER_IDENTITY_LIMIT" default:"3"`
	RegisterIPLimit       int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type SyncConfig struct {
	Interval time.Duration `envconfig:"STOREFRONT_SYNC_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"STOREFRONT_SYNC_LOCK_TTL" default:"30m"`
	PageSize int           `envconfig:"STOREFRONT_SYNC_PAGE_SIZE" default:"100"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
