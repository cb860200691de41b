package config

// EnvPrefix namespaces every environment variable the app reads.
const EnvPrefix = "PAGEMINT"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
	AppEnvTest = "test"
)

const (
	EnvAppEnv = "PAGEMINT_APP_ENV"
	EnvPort   = "PAGEMINT_APP_PORT"

	EnvDBDSN  = "PAGEMINT_DB_DSN"
	EnvDBHost = "PAGEMINT_DB_HOST"
	EnvDBUser = "PAGEMINT_DB_USER"
	EnvDBName = "PAGEMINT_DB_NAME"

	EnvRedisURL = "PAGEMINT_REDIS_URL"

	EnvJWTSecret = "PAGEMINT_JWT_SECRET"
	EnvJWTIssuer = "PAGEMINT_JWT_ISSUER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
