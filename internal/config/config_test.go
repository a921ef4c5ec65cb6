package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/signal_trader/internal/domain"
	"github.com/vitos/signal_trader/internal/infrastructure/exchange"
	"github.com/vitos/signal_trader/internal/usecase"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load("../../config/config.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "bitget", cfg.Exchange.Name)
	assert.Equal(t, "5", cfg.Trading.RiskBudgetPerTrade.String())
	assert.Equal(t, 3, cfg.Trading.Leverage)
	assert.Equal(t, 2*time.Second, cfg.Reconcile.CloseVerifyInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Reconcile.LockPollInterval)

	rules := cfg.Sizing().Rules("BTCUSDT")
	assert.Equal(t, int32(3), rules.Precision)
	assert.Equal(t, "0.001", rules.MinQuantity.String())
	assert.Equal(t, domain.BelowMinimumReject, rules.BelowMinimum)
	assert.Equal(t, int32(6), cfg.Sizing().Rules("ETHUSDT").Precision)
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	path := writeConfig(t, `
exchange:
  name: bybit
trading:
  risk_budget_per_trade: 10
`)
	t.Setenv("BYBIT_API_KEY", "env-key")
	t.Setenv("BYBIT_API_SECRET", "env-secret")
	t.Setenv("BITGET_API_KEY", "ignored")
	t.Setenv("WEBHOOK_SECRET", "hook")
	t.Setenv("PORT", "8081")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Exchange.APISecret)
	assert.Equal(t, "hook", cfg.Webhook.Secret)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, 40*time.Second, cfg.Reconcile.ReconcileTimeout)

	rc := cfg.ReconcilerConfig()
	assert.Equal(t, "10", rc.Budget.PerTrade.String())
	assert.Equal(t, 3, rc.Budget.Leverage)
	assert.Equal(t, usecase.BudgetFixed, rc.BudgetMode)
	assert.Equal(t, usecase.SameDirectionNoop, rc.SameDirection)
	assert.Equal(t, 5, rc.CloseVerifyMaxAttempts)

	opts := cfg.ExchangeOptions()
	assert.Equal(t, "bybit", opts.Name)
	assert.Equal(t, "env-key", opts.APIKey)
	assert.Equal(t, exchange.PositionModeHedge, opts.PositionMode)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown exchange", "exchange:\n  name: kraken\ntrading:\n  risk_budget_per_trade: 5\n"},
		{"missing budget", "exchange:\n  name: bitget\n"},
		{"zero leverage", "trading:\n  risk_budget_per_trade: 5\n  leverage_multiplier: 0\n"},
		{"bad policy", "trading:\n  risk_budget_per_trade: 5\n  same_direction_policy: flip\n"},
		{"fraction above one", "trading:\n  budget_mode: balance\n  balance_fraction: \"1.5\"\n"},
		{"negative window", "trading:\n  risk_budget_per_trade: 5\nreconcile:\n  duplicate_suppression_window: -1s\n"},
		{"unknown key", "trading:\n  risk_budget_per_trade: 5\n  stop_loss: 1\n"},
		{"lower case instrument", "trading:\n  risk_budget_per_trade: 5\n  instruments:\n    btcusdt:\n      precision: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BalanceModeNeedsNoFixedBudget(t *testing.T) {
	cfg, err := Load(writeConfig(t, "trading:\n  budget_mode: balance\n  balance_fraction: \"0.5\"\n"))
	require.NoError(t, err)
	assert.Equal(t, usecase.BudgetBalance, cfg.ReconcilerConfig().BudgetMode)
}

func TestApplyEnv_BadPort(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "PORT" {
			return "http", true
		}
		return "", false
	})
	assert.Error(t, err)
}
