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
	Settlement   SettlementConfig
	PayPal       PayPalConfig
	PubSub       PubSubConfig
	GCP          GCPConfig
	Outbox       OutboxConfig
	Worker       WorkerConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KEYMART_APP_ENV" required:"true"`
	Port         string `envconfig:"KEYMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KEYMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEYMART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KEYMART_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KEYMART_DB_DSN"`
	Driver string `envconfig:"KEYMART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEYMART_DB_HOST"`
	LegacyPort     int    `envconfig:"KEYMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEYMART_DB_USER"`
	LegacyPassword string `envconfig:"KEYMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEYMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEYMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEYMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEYMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEYMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEYMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEYMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEYMART_REDIS_ADDR"`
	Password     string        `envconfig:"KEYMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEYMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEYMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEYMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEYMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEYMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEYMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// SettlementConfig carries the money knobs shared by checkout, payouts and refunds.
type SettlementConfig struct {
	Currency               string `envconfig:"KEYMART_SETTLEMENT_CURRENCY" default:"USD"`
	CommissionRate         string `envconfig:"KEYMART_COMMISSION_RATE" default:"0.10"`
	HandlingFee            string `envconfig:"KEYMART_HANDLING_FEE" default:"0.00"`
	HoldWindowDays         int    `envconfig:"KEYMART_PAYOUT_HOLD_DAYS" default:"15"`
	RefundWindowDays       int    `envconfig:"KEYMART_REFUND_WINDOW_DAYS" default:"30"`
	MaxDisbursementRetries int    `envconfig:"KEYMART_PAYOUT_MAX_RETRIES" default:"5"`
	LowStockThreshold      int    `envconfig:"KEYMART_LOW_STOCK_THRESHOLD" default:"5"`
}

// CommissionRateDecimal returns the platform commission normalized to [0,1].
func (s SettlementConfig) CommissionRateDecimal() decimal.Decimal {
	rate, err := decimal.NewFromString(s.CommissionRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// HandlingFeeDecimal returns the per-order handling fee.
func (s SettlementConfig) HandlingFeeDecimal() decimal.Decimal {
	fee, err := decimal.NewFromString(s.HandlingFee)
	if err != nil {
		return decimal.Zero
	}
	return fee
}

// HoldWindow returns the escrow hold duration.
func (s SettlementConfig) HoldWindow() time.Duration {
	return time.Duration(s.HoldWindowDays) * 24 * time.Hour
}

// RefundWindow returns how long after completion a refund may be requested.
func (s SettlementConfig) RefundWindow() time.Duration {
	return time.Duration(s.RefundWindowDays) * 24 * time.Hour
}

func (s SettlementConfig) validate() error {
	rate, err := decimal.NewFromString(s.CommissionRate)
	if err != nil {
		return fmt.Errorf("invalid commission rate %q: %w", s.CommissionRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission rate %q must be within [0,1]", s.CommissionRate)
	}
	if _, err := decimal.NewFromString(s.HandlingFee); err != nil {
		return fmt.Errorf("invalid handling fee %q: %w", s.HandlingFee, err)
	}
	if s.HoldWindowDays <= 0 {
		return fmt.Errorf("payout hold window must be positive, got %d", s.HoldWindowDays)
	}
	return nil
}

type PayPalConfig struct {
	ClientID     string `envconfig:"KEYMART_PAYPAL_CLIENT_ID"`
	ClientSecret string `envconfig:"KEYMART_PAYPAL_CLIENT_SECRET"`
	WebhookID    string `envconfig:"KEYMART_PAYPAL_WEBHOOK_ID"`
	Env          string `envconfig:"KEYMART_PAYPAL_ENV" default:"sandbox"`
}

// Environment returns the normalized PayPal environment (sandbox/live).
func (p PayPalConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KEYMART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"KEYMART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KEYMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"KEYMART_PUBSUB_SETTLEMENT_TOPIC" default:"km-settlement-events"`
	NotificationTopic      string `envconfig:"KEYMART_PUBSUB_NOTIFICATION_TOPIC" default:"km-notification-events"`
	SettlementSubscription string `envconfig:"KEYMART_PUBSUB_SETTLEMENT_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KEYMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KEYMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KEYMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type WorkerConfig struct {
	Interval time.Duration `envconfig:"KEYMART_WORKER_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"KEYMART_WORKER_LOCK_TTL" default:"30m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"KEYMART_AUTO_MIGRATE" default:"false"`
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
