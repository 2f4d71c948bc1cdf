package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "STOREFRONT_APP_ENV"
	EnvPort   = "STOREFRONT_APP_PORT"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvKeycloakEnabled       = "STOREFRONT_KEYCLOAK_ENABLED"
	EnvKeycloakURL           = "STOREFRONT_KEYCLOAK_URL"
	EnvKeycloakPublicURL     = "STOREFRONT_KEYCLOAK_PUBLIC_URL"
	EnvKeycloakRealm         = "STOREFRONT_KEYCLOAK_REALM"
	EnvKeycloakClientID      = "STOREFRONT_KEYCLOAK_CLIENT_ID"
	EnvKeycloakClientSecret  = "STOREFRONT_KEYCLOAK_CLIENT_SECRET"
	EnvKeycloakAdminUsername = "STOREFRONT_KEYCLOAK_ADMIN_USERNAME"
	EnvKeycloakAdminPassword = "STOREFRONT_KEYCLOAK_ADMIN_PASSWORD"
	EnvKeycloakExtraIssuers  = "STOREFRONT_KEYCLOAK_EXTRA_ISSUERS"

	EnvInternalAPIKey = "STOREFRONT_INTERNAL_API_KEY"
	EnvSessionSecret  = "STOREFRONT_SESSION_SECRET"
	EnvAuthDevBypass  = "STOREFRONT_AUTH_DEV_BYPASS"
)

// legacyDBEnvVars are required together when no DSN is provided.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
