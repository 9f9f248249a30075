package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	cleanup := func() {
		os.Unsetenv("HTTP_PORT")
		os.Unsetenv("OUTBOX_MAX_RETRIES")
		os.Unsetenv("PAYMENT_MAX_RETRIES")
		os.Unsetenv("PAYMENT_SIMULATED_SUCCESS_RATIO")
		os.Unsetenv("CONSUMER_MAX_REQUEUE")
	}

	t.Run("should_apply_defaults_when_env_is_empty", func(t *testing.T) {
		cleanup()
		cfg := Load()

		assert.Equal(t, "8083", cfg.HTTPPort)
		// Payment publishes under a tighter outbox budget than the
		// postgres services: three attempts, then spill.
		assert.Equal(t, 3, cfg.OutboxMaxRetries)
		assert.Equal(t, 3, cfg.PaymentMaxRetries)
		assert.Equal(t, 3, cfg.ConsumerMaxRequeue)
		assert.Equal(t, 0.9, cfg.SimulatedSuccessRatio)
		assert.Equal(t, 10*time.Second, cfg.OutboxPollInterval)
		assert.Equal(t, 100, cfg.OutboxBatchSize)
	})

	t.Run("should_honor_env_overrides", func(t *testing.T) {
		cleanup()
		os.Setenv("OUTBOX_MAX_RETRIES", "7")
		os.Setenv("PAYMENT_SIMULATED_SUCCESS_RATIO", "0.7")
		defer cleanup()

		cfg := Load()
		assert.Equal(t, 7, cfg.OutboxMaxRetries)
		assert.Equal(t, 0.7, cfg.SimulatedSuccessRatio)
	})
}
