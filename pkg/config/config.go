package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Paystack     PaystackConfig
	Sendgrid     SendgridConfig
	Checkout     CheckoutConfig
	Shipping     ShippingConfig
	Outbox       OutboxConfig
	Cron         CronConfig
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
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BOPMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"BOPMARKET_APP_PORT" required:"true"`
	BaseURL      string `envconfig:"BOPMARKET_APP_BASE_URL"`
	LogLevel     string `envconfig:"BOPMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BOPMARKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BOPMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BOPMARKET_DB_DSN"`
	Driver string `envconfig:"BOPMARKET_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"BOPMARKET_DB_HOST"`
	Port     int    `envconfig:"BOPMARKET_DB_PORT" default:"5432"`
	User     string `envconfig:"BOPMARKET_DB_USER"`
	Password string `envconfig:"BOPMARKET_DB_PASSWORD"`
	Name     string `envconfig:"BOPMARKET_DB_NAME"`
	SSLMode  string `envconfig:"BOPMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BOPMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOPMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOPMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOPMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOPMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BOPMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"BOPMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOPMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOPMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOPMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOPMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOPMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOPMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"BOPMARKET_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"BOPMARKET_JWT_ISSUER" required:"true"`
}

type PaystackConfig struct {
	SecretKey   string        `envconfig:"BOPMARKET_PAYSTACK_SECRET_KEY" required:"true"`
	BaseURL     string        `envconfig:"BOPMARKET_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	CallbackURL string        `envconfig:"BOPMARKET_PAYSTACK_CALLBACK_URL"`
	Timeout     time.Duration `envconfig:"BOPMARKET_PAYSTACK_TIMEOUT" default:"15s"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"BOPMARKET_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"BOPMARKET_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"BOPMARKET_SENDGRID_FROM_NAME" default:"BopMarket"`
}

type CheckoutConfig struct {
	SessionTTL         time.Duration `envconfig:"BOPMARKET_CHECKOUT_SESSION_TTL" default:"30m"`
	WebhookDedupeTTL   time.Duration `envconfig:"BOPMARKET_CHECKOUT_WEBHOOK_DEDUPE_TTL" default:"24h"`
	ReferencePrefix    string        `envconfig:"BOPMARKET_CHECKOUT_REFERENCE_PREFIX" default:"BOP"`
	VerifyPollMax      int           `envconfig:"BOPMARKET_CHECKOUT_VERIFY_POLL_MAX" default:"10"`
	VerifyPollInterval time.Duration `envconfig:"BOPMARKET_CHECKOUT_VERIFY_POLL_INTERVAL" default:"3s"`
}

// ShippingConfig externalizes the shipping-fee policy. The fee is flat; it can
// be charged once per cart or once per store group, and waived for members.
type ShippingConfig struct {
	FlatFeeCents   int64 `envconfig:"BOPMARKET_SHIPPING_FLAT_FEE_CENTS" default:"150000"`
	PerStore       bool  `envconfig:"BOPMARKET_SHIPPING_PER_STORE" default:"false"`
	FreeForMembers bool  `envconfig:"BOPMARKET_SHIPPING_FREE_FOR_MEMBERS" default:"true"`
}

type OutboxConfig struct {
	BatchSize     int           `envconfig:"BOPMARKET_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval  time.Duration `envconfig:"BOPMARKET_OUTBOX_POLL_INTERVAL" default:"2s"`
	MaxAttempts   int           `envconfig:"BOPMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays int           `envconfig:"BOPMARKET_OUTBOX_RETENTION_DAYS" default:"14"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BOPMARKET_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"BOPMARKET_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BOPMARKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BOPMARKET_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
