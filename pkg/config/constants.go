package config

const (
	// EnvPrefix namespaces every environment variable the service reads.
	EnvPrefix = "BOPMARKET"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "BOPMARKET_DB_DSN"
	EnvDBHost = "BOPMARKET_DB_HOST"
	EnvDBUser = "BOPMARKET_DB_USER"
	EnvDBName = "BOPMARKET_DB_NAME"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
