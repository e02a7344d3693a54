package config

const (
	EnvPrefix = "shipvox"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "SHIPVOX_APP_ENV"
	EnvPort     = "SHIPVOX_APP_PORT"
	EnvRedisURL = "SHIPVOX_REDIS_URL"

	EnvDBDSN  = "SHIPVOX_DB_DSN"
	EnvDBHost = "SHIPVOX_DB_HOST"
	EnvDBUser = "SHIPVOX_DB_USER"
	EnvDBName = "SHIPVOX_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
