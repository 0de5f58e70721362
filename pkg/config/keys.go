package config

const (
	// EnvPrefix is handed to envconfig; every tag carries the full variable name.
	EnvPrefix = "PROJECTHUB"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"
)

const (
	EnvAppEnv          = "PROJECTHUB_APP_ENV"
	EnvPort            = "PROJECTHUB_APP_PORT"
	EnvPublicBaseURL   = "PROJECTHUB_PUBLIC_BASE_URL"
	EnvDBDSN           = "PROJECTHUB_DB_DSN"
	EnvDBHost          = "PROJECTHUB_DB_HOST"
	EnvDBUser          = "PROJECTHUB_DB_USER"
	EnvDBName          = "PROJECTHUB_DB_NAME"
	EnvDBPassword      = "PROJECTHUB_DB_PASSWORD"
	EnvRedisURL        = "PROJECTHUB_REDIS_URL"
	EnvJWTSecret       = "PROJECTHUB_JWT_SECRET"
	EnvJWTIssuer       = "PROJECTHUB_JWT_ISSUER"
	EnvGCPProjectID    = "PROJECTHUB_GCP_PROJECT_ID"
	EnvGCSBucket       = "PROJECTHUB_GCS_BUCKET_NAME"
	EnvOutboxSink      = "PROJECTHUB_OUTBOX_SINK"
	EnvKafkaBrokers    = "PROJECTHUB_KAFKA_BROKERS"
	EnvStripeAPIKey    = "PROJECTHUB_STRIPE_API_KEY"
	EnvStripeSecret    = "PROJECTHUB_STRIPE_WEBHOOK_SECRET"
	EnvDefaultDownload = "PROJECTHUB_DEFAULT_DOWNLOADS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
