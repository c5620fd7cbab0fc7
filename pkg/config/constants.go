package config

// EnvPrefix is the envconfig prefix shared by every binary.
const EnvPrefix = "keymart"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "KEYMART_DB_DSN"
	EnvDBHost = "KEYMART_DB_HOST"
	EnvDBUser = "KEYMART_DB_USER"
	EnvDBName = "KEYMART_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
