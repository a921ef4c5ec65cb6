package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/vitos/signal_trader/internal/domain"
	"github.com/vitos/signal_trader/internal/infrastructure/exchange"
	"github.com/vitos/signal_trader/internal/usecase"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Trading   TradingConfig   `yaml:"trading"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Server    ServerConfig    `yaml:"server"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ExchangeConfig struct {
	Name         string        `yaml:"name" validate:"oneof=bitget bybit"`
	APIKey       string        `yaml:"api_key"`
	APISecret    string        `yaml:"api_secret"`
	Passphrase   string        `yaml:"passphrase"`
	RESTEndpoint string        `yaml:"rest_endpoint" validate:"omitempty,url"`
	PositionMode string        `yaml:"position_mode" validate:"oneof=hedge one_way"`
	MarginCoin   string        `yaml:"margin_coin" validate:"required"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
}

type TradingConfig struct {
	RiskBudgetPerTrade  decimal.Decimal             `yaml:"risk_budget_per_trade" validate:"gte=0"`
	Leverage            int                         `yaml:"leverage_multiplier" validate:"min=1,max=125"`
	BudgetMode          string                      `yaml:"budget_mode" validate:"oneof=fixed balance"`
	BalanceFraction     decimal.Decimal             `yaml:"balance_fraction" validate:"gt=0,lte=1"`
	SameDirectionPolicy string                      `yaml:"same_direction_policy" validate:"oneof=noop top_up"`
	QuantityPrecision   int32                       `yaml:"quantity_precision" validate:"min=0,max=12"`
	Instruments         map[string]InstrumentConfig `yaml:"instruments" validate:"dive"`
}

type InstrumentConfig struct {
	MinQuantity  decimal.Decimal `yaml:"min_quantity" validate:"gte=0"`
	Precision    *int32          `yaml:"precision" validate:"omitempty,min=0,max=12"`
	BelowMinimum string          `yaml:"below_minimum" validate:"omitempty,oneof=reject round_up"`
}

type ReconcileConfig struct {
	LockTimeout                time.Duration `yaml:"lock_timeout" validate:"gt=0"`
	LockStaleAfter             time.Duration `yaml:"lock_stale_after" validate:"gt=0"`
	LockPollInterval           time.Duration `yaml:"lock_poll_interval" validate:"gt=0"`
	CloseVerifyMaxAttempts     int           `yaml:"close_verify_max_attempts" validate:"min=1"`
	CloseVerifyInterval        time.Duration `yaml:"close_verify_interval" validate:"gt=0"`
	DuplicateSuppressionWindow time.Duration `yaml:"duplicate_suppression_window" validate:"gte=0"`
	PositionReadAttempts       int           `yaml:"position_read_attempts" validate:"min=1"`
	RetryBackoff               time.Duration `yaml:"retry_backoff" validate:"gt=0"`
	ReconcileTimeout           time.Duration `yaml:"reconcile_timeout" validate:"gt=0"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

type StorageConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=json console"`
}

// Default returns the configuration used for every key the file leaves out.
func Default() Config {
	return Config{
		Exchange: ExchangeConfig{
			Name:         "bitget",
			PositionMode: "hedge",
			MarginCoin:   "USDT",
			Timeout:      10 * time.Second,
		},
		Trading: TradingConfig{
			Leverage:            3,
			BudgetMode:          string(usecase.BudgetFixed),
			BalanceFraction:     decimal.NewFromInt(1),
			SameDirectionPolicy: string(usecase.SameDirectionNoop),
			QuantityPrecision:   usecase.DefaultQuantityPrecision,
		},
		Reconcile: ReconcileConfig{
			LockTimeout:                5 * time.Second,
			LockStaleAfter:             usecase.DefaultLockStaleAfter,
			LockPollInterval:           usecase.DefaultLockPollInterval,
			CloseVerifyMaxAttempts:     5,
			CloseVerifyInterval:        2 * time.Second,
			DuplicateSuppressionWindow: usecase.DefaultDuplicateWindow,
			PositionReadAttempts:       3,
			RetryBackoff:               500 * time.Millisecond,
			ReconcileTimeout:           40 * time.Second,
		},
		Server:  ServerConfig{Port: 10000},
		Storage: StorageConfig{Path: "signal_trader.db"},
		Logging: LoggingConfig{Level: "info", Encoding: "json"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides credentials and the port from the environment.
// Credentials only apply to the configured exchange.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	switch c.Exchange.Name {
	case "bitget":
		set(&c.Exchange.APIKey, "BITGET_API_KEY")
		set(&c.Exchange.APISecret, "BITGET_API_SECRET")
		set(&c.Exchange.Passphrase, "BITGET_API_PASSPHRASE")
	case "bybit":
		set(&c.Exchange.APIKey, "BYBIT_API_KEY")
		set(&c.Exchange.APISecret, "BYBIT_API_SECRET")
	}
	set(&c.Webhook.Secret, "WEBHOOK_SECRET")

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	if err := validate.Struct(c); err != nil {
		return domain.NewError(domain.KindInvalid, "config", err)
	}
	if c.Trading.BudgetMode == string(usecase.BudgetFixed) && !c.Trading.RiskBudgetPerTrade.IsPositive() {
		return domain.Errorf(domain.KindInvalid, "config", "trading.risk_budget_per_trade must be positive in fixed budget mode")
	}
	for sym := range c.Trading.Instruments {
		if sym != strings.ToUpper(strings.TrimSpace(sym)) {
			return domain.Errorf(domain.KindInvalid, "config", "trading.instruments key %q must be upper case", sym)
		}
	}
	return nil
}

func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// Sizing builds the sizing policy from the trading section.
func (c *Config) Sizing() *usecase.SizingPolicy {
	defaults := domain.InstrumentRules{Precision: c.Trading.QuantityPrecision}
	rules := make(map[string]domain.InstrumentRules, len(c.Trading.Instruments))
	for sym, ic := range c.Trading.Instruments {
		r := domain.InstrumentRules{
			MinQuantity:  ic.MinQuantity,
			Precision:    c.Trading.QuantityPrecision,
			BelowMinimum: domain.BelowMinimumPolicy(ic.BelowMinimum),
		}
		if ic.Precision != nil {
			r.Precision = *ic.Precision
		}
		rules[sym] = r
	}
	return usecase.NewSizingPolicy(defaults, rules)
}

func (c *Config) ReconcilerConfig() usecase.ReconcilerConfig {
	return usecase.ReconcilerConfig{
		Budget: domain.RiskBudget{
			PerTrade: c.Trading.RiskBudgetPerTrade,
			Leverage: c.Trading.Leverage,
		},
		BudgetMode:             usecase.BudgetMode(c.Trading.BudgetMode),
		BalanceFraction:        c.Trading.BalanceFraction,
		MarginCoin:             c.Exchange.MarginCoin,
		SameDirection:          usecase.SameDirectionPolicy(c.Trading.SameDirectionPolicy),
		LockTimeout:            c.Reconcile.LockTimeout,
		CloseVerifyMaxAttempts: c.Reconcile.CloseVerifyMaxAttempts,
		CloseVerifyInterval:    c.Reconcile.CloseVerifyInterval,
		PositionReadAttempts:   c.Reconcile.PositionReadAttempts,
		RetryBackoff:           c.Reconcile.RetryBackoff,
	}
}

func (c *Config) ExchangeOptions() exchange.Options {
	return exchange.Options{
		Name:         c.Exchange.Name,
		APIKey:       c.Exchange.APIKey,
		APISecret:    c.Exchange.APISecret,
		Passphrase:   c.Exchange.Passphrase,
		BaseURL:      c.Exchange.RESTEndpoint,
		MarginCoin:   c.Exchange.MarginCoin,
		PositionMode: exchange.PositionMode(c.Exchange.PositionMode),
		Timeout:      c.Exchange.Timeout,
	}
}
