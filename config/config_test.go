package config_test

import (
	"testing"
	"time"

	"github.com/mktdigital/marketplace-backend/config"

	"github.com/stretchr/testify/assert"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_USER", "marketplace")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "marketplace")
	t.Setenv("PROVIDER_3DS_URL", "https://gateway.example.com/3ds")
	t.Setenv("PROVIDER_COMPANY_ID", "C0099")
	t.Setenv("PROVIDER_BRANCH_ID", "B001")
	t.Setenv("PROVIDER_USER", "MKTUSER")
	t.Setenv("PROVIDER_PASSWORD", "hunter2")
	t.Setenv("PROVIDER_ENVELOPE_ID", "E0099")
	t.Setenv("PROVIDER_ENCRYPTION_KEY", "5DCC67393750523CD165F17E1EFADD21")
	t.Setenv("PROVIDER_MERCHANT_DEFAULT", "MER-DEFAULT")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.LoadConfig()
	assert.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "MXN", cfg.Provider.DefaultCurrency)
	assert.Equal(t, "MEX", cfg.Provider.Country)
	assert.Equal(t, "https://gateway.example.com/3ds", cfg.Provider.ThreeDSURL)
	assert.Equal(t, "MER-DEFAULT", cfg.Provider.DefaultMerchantID)
}

func TestLoadConfig_MerchantTable(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROVIDER_MERCHANT_AMEX", "MER-AMEX")
	t.Setenv("PROVIDER_MERCHANT_VISA", "MER-VISA")
	t.Setenv("PROVIDER_MERCHANT_MASTERCARD", "MER-MC")

	cfg, err := config.LoadConfig()
	assert.NoError(t, err)

	assert.Equal(t, []config.MerchantRoute{
		{Prefix: "34", MerchantID: "MER-AMEX"},
		{Prefix: "37", MerchantID: "MER-AMEX"},
		{Prefix: "4", MerchantID: "MER-VISA"},
		{Prefix: "5", MerchantID: "MER-MC"},
	}, cfg.Provider.Merchants)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROVIDER_PASSWORD", "")
	t.Setenv("PROVIDER_ENVELOPE_ID", "")

	_, err := config.LoadConfig()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "PROVIDER_ENVELOPE_ID, PROVIDER_PASSWORD")
	}
}

func TestLoadConfig_NoMerchantsAtAll(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROVIDER_MERCHANT_DEFAULT", "")

	_, err := config.LoadConfig()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "PROVIDER_MERCHANT_DEFAULT")
	}
}

func TestLoadConfig_SessionTTLOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYMENT_SESSION_TTL", "45m")

	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.SessionTTL)
}
