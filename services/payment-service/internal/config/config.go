package config

import (
	"time"

	"github.com/joho/godotenv"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/env"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/rabbitmq"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/retry"
)

type Config struct {
	AppEnv   string
	HTTPPort string

	MongoURL string
	MongoDB  string

	BrokerURL      string
	ConnectRetry   retry.Config
	PublishTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxRetries   int
	OutboxBackoff      retry.Config

	ConsumerMaxRequeue int
	ConsumerBackoff    retry.Config

	PaymentMaxRetries     int
	SimulatedSuccessRatio float64
	SimulatedChargeDelay  time.Duration
}

// Load reads configuration from the environment. A local .env file is
// honored when present; real deployments set variables directly.
func Load() *Config {
	_ = godotenv.Load()

	connectRetry := retry.Config{
		MaxAttempts: env.Int("BROKER_CONNECT_MAX_RETRIES", 10),
		BaseDelay:   env.Duration("BROKER_CONNECT_BASE_DELAY", 5*time.Second),
		MaxDelay:    env.Duration("BROKER_CONNECT_MAX_DELAY", 60*time.Second),
	}

	return &Config{
		AppEnv:   env.Str("APP_ENV", "development"),
		HTTPPort: env.Str("HTTP_PORT", "8083"),

		MongoURL: env.Str("MONGO_URL", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDB:  env.Str("MONGO_DB", "payments"),

		BrokerURL: rabbitmq.BuildURL(
			env.Str("BROKER_URL", "amqp://localhost:5672"),
			env.Str("BROKER_USER", "guest"),
			env.Str("BROKER_PASSWORD", "guest"),
			env.Str("BROKER_VHOST", "/"),
		),
		ConnectRetry:   connectRetry,
		PublishTimeout: env.Duration("BROKER_PUBLISH_TIMEOUT", 10*time.Second),

		OutboxPollInterval: env.Duration("OUTBOX_POLL_INTERVAL", 10*time.Second),
		OutboxBatchSize:    env.Int("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:   env.Int("OUTBOX_MAX_RETRIES", 3),
		OutboxBackoff: retry.Config{
			BaseDelay: env.Duration("OUTBOX_RETRY_BASE_DELAY", 5*time.Second),
			MaxDelay:  env.Duration("OUTBOX_RETRY_MAX_DELAY", 60*time.Second),
		},

		ConsumerMaxRequeue: env.Int("CONSUMER_MAX_REQUEUE", 3),
		ConsumerBackoff: retry.Config{
			BaseDelay: env.Duration("CONSUMER_RETRY_BASE_DELAY", 2*time.Second),
			MaxDelay:  env.Duration("CONSUMER_RETRY_MAX_DELAY", 30*time.Second),
		},

		PaymentMaxRetries:     env.Int("PAYMENT_MAX_RETRIES", 3),
		SimulatedSuccessRatio: env.Float("PAYMENT_SIMULATED_SUCCESS_RATIO", 0.9),
		SimulatedChargeDelay:  env.Duration("PAYMENT_SIMULATED_CHARGE_DELAY", 100*time.Millisecond),
	}
}
