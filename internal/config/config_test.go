package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.DBDriver)
	require.Equal(t, 30*time.Minute, cfg.OrderExpiration)
	require.Equal(t, "USD", cfg.BaseCurrency)
	require.False(t, cfg.FinalizeQueueEnabled)
}

func TestLoadParsesMapsAndLists(t *testing.T) {
	t.Setenv("CURRENCY_RATES", "EUR:0.9,XTZ:1.25")
	t.Setenv("WERT_ALLOWED_FIAT", "USD,GBP")
	t.Setenv("ORDER_EXPIRATION", "10m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"EUR": "0.9", "XTZ": "1.25"}, cfg.CurrencyRates)
	require.Equal(t, []string{"USD", "GBP"}, cfg.WertAllowedFiat)
	require.Equal(t, 10*time.Minute, cfg.OrderExpiration)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"DB_DRIVER": "oracle"}},
		{"mysql without host", map[string]string{"DB_DRIVER": "mysql", "DB_USER": "u", "DB_NAME": "n"}},
		{"zero expiration", map[string]string{"ORDER_EXPIRATION": "0s"}},
		{"stripe without webhook secret", map[string]string{"STRIPE_SECRET": "sk_test"}},
		{"zero rate limit", map[string]string{"CREATE_PAYMENT_RATE_LIMIT": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
