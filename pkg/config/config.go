package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	CORS         CORSConfig
	OpenPix      OpenPixConfig
	Fees         FeesConfig
	Webhooks     WebhooksConfig
	Idempotency  IdempotencyConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Sweep        SweepConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PIXPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"PIXPAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PIXPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PIXPAY_LOG_WARN_STACK" default:"false"`

	// MetricsAddr is where background workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"PIXPAY_METRICS_ADDR" default:":9090"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Name string `envconfig:"PIXPAY_SERVICE_NAME" default:"payments-service"`
	Kind string `envconfig:"PIXPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PIXPAY_DB_DSN"`
	Driver string `envconfig:"PIXPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PIXPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"PIXPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PIXPAY_DB_USER"`
	LegacyPassword string `envconfig:"PIXPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"PIXPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"PIXPAY_DB_SSLMODE" default:"require"`

	MaxOpenConns    int           `envconfig:"PIXPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PIXPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PIXPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PIXPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PIXPAY_REDIS_URL"`
	Address      string        `envconfig:"PIXPAY_REDIS_ADDR"`
	Password     string        `envconfig:"PIXPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"PIXPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PIXPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PIXPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PIXPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PIXPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PIXPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PIXPAY_AUTO_MIGRATE" default:"false"`
}

type CORSConfig struct {
	AllowedOrigins   []string      `envconfig:"PIXPAY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	AllowCredentials bool          `envconfig:"PIXPAY_CORS_ALLOW_CREDENTIALS" default:"false"`
	MaxAge           time.Duration `envconfig:"PIXPAY_CORS_MAX_AGE" default:"5m"`
}

type OpenPixConfig struct {
	AppID             string        `envconfig:"PIXPAY_OPENPIX_APP_ID" required:"true"`
	BaseURL           string        `envconfig:"PIXPAY_OPENPIX_BASE_URL" default:"https://api.openpix.com.br"`
	HTTPTimeout       time.Duration `envconfig:"PIXPAY_OPENPIX_HTTP_TIMEOUT" default:"15s"`
	CorrelationPrefix string        `envconfig:"PIXPAY_OPENPIX_CORRELATION_PREFIX" default:"pix"`
}

// FeesConfig holds the flat-fee model constants in BRL.
type FeesConfig struct {
	PlatformFee  decimal.Decimal `envconfig:"PIXPAY_PIX_PLATFORM_FEE" default:"0.95"`
	ProviderCost decimal.Decimal `envconfig:"PIXPAY_PIX_PROVIDER_COST" default:"0.50"`
}

type WebhooksConfig struct {
	DedupeTTL time.Duration `envconfig:"PIXPAY_WEBHOOK_DEDUPE_TTL" default:"72h"`
}

// IdempotencyConfig bounds how long Idempotency-Key replays are kept and how
// long an unfinished request blocks duplicates.
type IdempotencyConfig struct {
	TTL         time.Duration `envconfig:"PIXPAY_IDEMPOTENCY_TTL" default:"24h"`
	InFlightTTL time.Duration `envconfig:"PIXPAY_IDEMPOTENCY_IN_FLIGHT_TTL" default:"1m"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PIXPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PaymentsTopic string `envconfig:"PIXPAY_PUBSUB_PAYMENTS_TOPIC" default:"pix-payment-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PIXPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PIXPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PIXPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`

	PublishTimeout time.Duration `envconfig:"PIXPAY_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`

	RetentionAge      time.Duration `envconfig:"PIXPAY_OUTBOX_RETENTION_AGE" default:"720h"`
	RetentionInterval time.Duration `envconfig:"PIXPAY_OUTBOX_RETENTION_INTERVAL" default:"1h"`
}

type SweepConfig struct {
	Interval   time.Duration `envconfig:"PIXPAY_SWEEP_INTERVAL" default:"5m"`
	PendingAge time.Duration `envconfig:"PIXPAY_SWEEP_PENDING_AGE" default:"30m"`
	BatchSize  int           `envconfig:"PIXPAY_SWEEP_BATCH_SIZE" default:"100"`
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
