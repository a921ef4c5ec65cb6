package domain

import "github.com/shopspring/decimal"

type BelowMinimumPolicy string

const (
	BelowMinimumReject  BelowMinimumPolicy = "reject"
	BelowMinimumRoundUp BelowMinimumPolicy = "round_up"
)

// InstrumentRules are the per-instrument quantity constraints used when sizing.
type InstrumentRules struct {
	MinQuantity  decimal.Decimal
	Precision    int32
	BelowMinimum BelowMinimumPolicy
}

// RiskBudget is the configured USDT amount committed per trade and the
// leverage applied to it.
type RiskBudget struct {
	PerTrade decimal.Decimal
	Leverage int
}

// Notional is the order value in USDT: PerTrade * Leverage.
func (b RiskBudget) Notional() decimal.Decimal {
	return b.PerTrade.Mul(decimal.NewFromInt(int64(b.Leverage)))
}
