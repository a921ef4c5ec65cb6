package usecase

import (
	"github.com/shopspring/decimal"
	"github.com/vitos/signal_trader/internal/domain"
)

const DefaultQuantityPrecision int32 = 6

// SizingPolicy converts a risk budget and a price into an order quantity.
// It does no I/O.
type SizingPolicy struct {
	defaults domain.InstrumentRules
	rules    map[string]domain.InstrumentRules
}

func NewSizingPolicy(defaults domain.InstrumentRules, rules map[string]domain.InstrumentRules) *SizingPolicy {
	if defaults.BelowMinimum == "" {
		defaults.BelowMinimum = domain.BelowMinimumReject
	}
	if rules == nil {
		rules = map[string]domain.InstrumentRules{}
	}
	return &SizingPolicy{defaults: defaults, rules: rules}
}

// DefaultSizingPolicy rounds to 6 decimals and rejects anything that rounds to zero.
func DefaultSizingPolicy() *SizingPolicy {
	return NewSizingPolicy(domain.InstrumentRules{Precision: DefaultQuantityPrecision}, nil)
}

func (p *SizingPolicy) Rules(instrument string) domain.InstrumentRules {
	r, ok := p.rules[instrument]
	if !ok {
		return p.defaults
	}
	if r.BelowMinimum == "" {
		r.BelowMinimum = p.defaults.BelowMinimum
	}
	return r
}

// ComputeQuantity returns budget.PerTrade * budget.Leverage / price rounded
// half down to the instrument precision, so the order never exceeds the
// notional budget by rounding.
func (p *SizingPolicy) ComputeQuantity(instrument string, budget domain.RiskBudget, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, domain.Errorf(domain.KindInvalidPrice, "sizing", "price %s is not positive", price)
	}
	if !budget.PerTrade.IsPositive() || budget.Leverage < 1 {
		return decimal.Zero, domain.Errorf(domain.KindInvalid, "sizing", "budget %s x%d is not usable", budget.PerTrade, budget.Leverage)
	}

	rules := p.Rules(instrument)
	qty := roundHalfDown(budget.Notional().Div(price), rules.Precision)

	if qty.IsZero() {
		return decimal.Zero, domain.Errorf(domain.KindBelowMinimum, "sizing", "quantity rounds to zero at precision %d", rules.Precision)
	}
	if rules.MinQuantity.IsPositive() && qty.LessThan(rules.MinQuantity) {
		if rules.BelowMinimum == domain.BelowMinimumRoundUp {
			return rules.MinQuantity, nil
		}
		return decimal.Zero, domain.Errorf(domain.KindBelowMinimum, "sizing", "quantity %s below minimum %s", qty, rules.MinQuantity)
	}
	return qty, nil
}

// roundHalfDown rounds a non-negative value to places decimals, resolving an
// exact tie toward zero.
func roundHalfDown(v decimal.Decimal, places int32) decimal.Decimal {
	truncated := v.Truncate(places)
	rem := v.Sub(truncated)
	unit := decimal.New(1, -places)
	half := unit.Div(decimal.NewFromInt(2))
	if rem.GreaterThan(half) {
		return truncated.Add(unit)
	}
	return truncated
}
