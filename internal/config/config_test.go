package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/cafe-order/internal/core/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("TAX_RATE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "0.08", cfg.TaxRate.String())
	assert.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("TAX_RATE", "0.1")
	t.Setenv("KITCHEN_WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "0.1", cfg.TaxRate.String())
	assert.Equal(t, 2, cfg.KitchenWorkers)
}

func TestLoad_BadTaxRate(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("TAX_RATE", "eight percent")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseAuthTokens(t *testing.T) {
	tokens, err := ParseAuthTokens("tok-a=alice, tok-b=bob:admin,")
	require.NoError(t, err)
	assert.Equal(t, domain.Principal{UserID: "alice"}, tokens["tok-a"])
	assert.Equal(t, domain.Principal{UserID: "bob", Admin: true}, tokens["tok-b"])

	_, err = ParseAuthTokens("broken")
	assert.Error(t, err)
	_, err = ParseAuthTokens("tok=carol:owner")
	assert.Error(t, err)
}
