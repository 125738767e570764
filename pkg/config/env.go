package config

const EnvPrefix = "PIXPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv        = "PIXPAY_APP_ENV"
	EnvPort          = "PIXPAY_APP_PORT"
	EnvLogLevel      = "PIXPAY_LOG_LEVEL"
	EnvServiceName   = "PIXPAY_SERVICE_NAME"
	EnvDBDSN         = "PIXPAY_DB_DSN"
	EnvDBHost        = "PIXPAY_DB_HOST"
	EnvDBUser        = "PIXPAY_DB_USER"
	EnvDBPassword    = "PIXPAY_DB_PASSWORD"
	EnvDBName        = "PIXPAY_DB_NAME"
	EnvRedisURL      = "PIXPAY_REDIS_URL"
	EnvOpenPixAppID  = "PIXPAY_OPENPIX_APP_ID"
	EnvOpenPixURL    = "PIXPAY_OPENPIX_BASE_URL"
	EnvPlatformFee   = "PIXPAY_PIX_PLATFORM_FEE"
	EnvProviderCost  = "PIXPAY_PIX_PROVIDER_COST"
	EnvCORSOrigins   = "PIXPAY_CORS_ALLOWED_ORIGINS"
	EnvGCPProjectID  = "PIXPAY_GCP_PROJECT_ID"
	EnvPaymentsTopic = "PIXPAY_PUBSUB_PAYMENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
