package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

// Adapter is what every supported exchange implements.
type Adapter interface {
	domain.Exchange
	domain.BalanceReader
	domain.LeverageSetter
}

var (
	_ Adapter = (*BitgetAdapter)(nil)
	_ Adapter = (*BybitAdapter)(nil)
)

type Options struct {
	Name         string
	APIKey       string
	APISecret    string
	Passphrase   string
	BaseURL      string
	MarginCoin   string
	PositionMode PositionMode
	Timeout      time.Duration
}

func New(opts Options, logger *zap.Logger) (Adapter, error) {
	switch opts.Name {
	case "bitget":
		return NewBitgetAdapter(BitgetOptions{
			APIKey:       opts.APIKey,
			APISecret:    opts.APISecret,
			Passphrase:   opts.Passphrase,
			BaseURL:      opts.BaseURL,
			MarginCoin:   opts.MarginCoin,
			PositionMode: opts.PositionMode,
			Timeout:      opts.Timeout,
		}, logger), nil
	case "bybit":
		return NewBybitAdapter(opts.APIKey, opts.APISecret, opts.BaseURL, opts.Timeout, logger), nil
	}
	return nil, fmt.Errorf("unsupported exchange %q", opts.Name)
}

// SymbolNormalizer returns how inbound alert tickers map onto the named
// exchange's instruments.
func SymbolNormalizer(name string) func(string) string {
	if name == "bitget" {
		return NormalizeBitgetSymbol
	}
	return func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
}
