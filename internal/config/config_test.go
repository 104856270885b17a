package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	cfg := Load()

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "usd", cfg.PaymentCurrency)
	assert.True(t, cfg.AutoMigrate)
	assert.ErrorContains(t, cfg.Validate(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PROVIDER_TIMEOUT", "3s")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("PAYMENT_CURRENCY", "EUR")
	t.Setenv("FRONTEND_URL", "https://shop.example.com/")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("POSTGRES_MAX_CONNS", "not-a-number")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, "eur", cfg.PaymentCurrency)
	assert.Equal(t, "https://shop.example.com", cfg.FrontendURL)
	assert.Equal(t, int32(8), cfg.PostgresMaxConns)
	require.NoError(t, cfg.Validate())
}
