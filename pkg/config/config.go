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
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Entitlements EntitlementsConfig
	Reconcile    ReconcileConfig
	Webhook      WebhookConfig
	RateLimit    RateLimitConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string `envconfig:"PROJECTHUB_APP_ENV" required:"true"`
	Port          string `envconfig:"PROJECTHUB_APP_PORT" required:"true"`
	LogLevel      string `envconfig:"PROJECTHUB_LOG_LEVEL" default:"info"`
	LogWarnStack  bool   `envconfig:"PROJECTHUB_LOG_WARN_STACK" default:"false"`
	PublicBaseURL string `envconfig:"PROJECTHUB_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	CORSOrigins   string `envconfig:"PROJECTHUB_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type ServiceConfig struct {
	Kind string `envconfig:"PROJECTHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PROJECTHUB_DB_DSN"`
	Driver string `envconfig:"PROJECTHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PROJECTHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"PROJECTHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PROJECTHUB_DB_USER"`
	LegacyPassword string `envconfig:"PROJECTHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"PROJECTHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"PROJECTHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PROJECTHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PROJECTHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PROJECTHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PROJECTHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PROJECTHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PROJECTHUB_REDIS_ADDR"`
	Password     string        `envconfig:"PROJECTHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"PROJECTHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PROJECTHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PROJECTHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PROJECTHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PROJECTHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PROJECTHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"PROJECTHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PROJECTHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PROJECTHUB_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PROJECTHUB_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PROJECTHUB_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PROJECTHUB_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PROJECTHUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

// GCSConfig locates the project deliverables served through download tokens.
type GCSConfig struct {
	BucketName   string `envconfig:"PROJECTHUB_GCS_BUCKET_NAME" required:"true"`
	ObjectPrefix string `envconfig:"PROJECTHUB_GCS_OBJECT_PREFIX" default:"projects"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"PROJECTHUB_PUBSUB_DOMAIN_TOPIC" default:"projecthub-domain-events"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"PROJECTHUB_KAFKA_BROKERS"`
	Topic   string   `envconfig:"PROJECTHUB_KAFKA_TOPIC" default:"projecthub.domain-events"`
}

type OutboxConfig struct {
	Sink           string `envconfig:"PROJECTHUB_OUTBOX_SINK" default:"pubsub"`
	BatchSize      int    `envconfig:"PROJECTHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"PROJECTHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"PROJECTHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int    `envconfig:"PROJECTHUB_OUTBOX_RETENTION_DAYS" default:"14"`
}

func (o OutboxConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Sink)) {
	case OutboxSinkPubSub, OutboxSinkKafka:
		return nil
	default:
		return fmt.Errorf("unsupported outbox sink %q", o.Sink)
	}
}

// SinkName returns the normalized outbox sink.
func (o OutboxConfig) SinkName() string {
	return strings.ToLower(strings.TrimSpace(o.Sink))
}

type StripeConfig struct {
	APIKey        string `envconfig:"PROJECTHUB_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"PROJECTHUB_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"PROJECTHUB_STRIPE_ENV" default:"test"`
	Currency      string `envconfig:"PROJECTHUB_STRIPE_CURRENCY" default:"usd"`
	ProductName   string `envconfig:"PROJECTHUB_STRIPE_PRODUCT_NAME" default:"Academic Project"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// EntitlementsConfig bounds what a purchase and its download tokens allow.
type EntitlementsConfig struct {
	DefaultDownloads int `envconfig:"PROJECTHUB_DEFAULT_DOWNLOADS" default:"3"`
	TokenTTLHours    int `envconfig:"PROJECTHUB_TOKEN_TTL_HOURS" default:"24"`
	MaxTokenTTLHours int `envconfig:"PROJECTHUB_MAX_TOKEN_TTL_HOURS" default:"168"`
	MaxDownloads     int `envconfig:"PROJECTHUB_TOKEN_MAX_DOWNLOADS" default:"1"`
}

type ReconcileConfig struct {
	StaleAfter time.Duration `envconfig:"PROJECTHUB_RECONCILE_STALE_AFTER" default:"15m"`
	BatchSize  int           `envconfig:"PROJECTHUB_RECONCILE_BATCH_SIZE" default:"50"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"PROJECTHUB_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type RateLimitConfig struct {
	RedeemWindow time.Duration `envconfig:"PROJECTHUB_RATE_LIMIT_REDEEM_WINDOW" default:"1m"`
	RedeemLimit  int           `envconfig:"PROJECTHUB_RATE_LIMIT_REDEEM_LIMIT" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PROJECTHUB_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"PROJECTHUB_CRON_LOCK_TTL" default:"4m"`
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
