package usecase_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/signal_trader/internal/domain"
	"github.com/vitos/signal_trader/internal/usecase"
)

func budget(perTrade string, leverage int) domain.RiskBudget {
	return domain.RiskBudget{PerTrade: decimal.RequireFromString(perTrade), Leverage: leverage}
}

func TestComputeQuantity(t *testing.T) {
	p := usecase.DefaultSizingPolicy()

	tests := []struct {
		name   string
		budget domain.RiskBudget
		price  string
		want   string
	}{
		{"whole", budget("10", 3), "5", "6"},
		{"fraction", budget("5", 3), "10", "1.5"},
		{"truncates below half", budget("1", 1), "3", "0.333333"},
		{"rounds up above half", budget("2", 1), "3", "0.666667"},
		{"tie rounds down", budget("0.0000025", 1), "1", "0.000002"},
		{"just above tie rounds up", budget("0.00000251", 1), "1", "0.000003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ComputeQuantity("X", tt.budget, decimal.RequireFromString(tt.price))
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestComputeQuantity_NeverExceedsNotional(t *testing.T) {
	p := usecase.DefaultSizingPolicy()
	b := budget("7", 3)
	for _, price := range []string{"3", "7", "11", "13.37", "29000.5"} {
		pr := decimal.RequireFromString(price)
		qty, err := p.ComputeQuantity("X", b, pr)
		require.NoError(t, err)
		// Half-down rounding can exceed by at most half a unit of precision.
		slack := decimal.New(5, -7).Mul(pr)
		assert.True(t, qty.Mul(pr).LessThanOrEqual(b.Notional().Add(slack)), "price %s qty %s", price, qty)
	}
}

func TestComputeQuantity_InvalidInputs(t *testing.T) {
	p := usecase.DefaultSizingPolicy()

	_, err := p.ComputeQuantity("X", budget("5", 3), decimal.Zero)
	assert.True(t, domain.IsKind(err, domain.KindInvalidPrice))

	_, err = p.ComputeQuantity("X", budget("5", 3), decimal.NewFromInt(-1))
	assert.True(t, domain.IsKind(err, domain.KindInvalidPrice))

	_, err = p.ComputeQuantity("X", budget("0", 3), decimal.NewFromInt(10))
	assert.True(t, domain.IsKind(err, domain.KindInvalid))

	_, err = p.ComputeQuantity("X", budget("5", 0), decimal.NewFromInt(10))
	assert.True(t, domain.IsKind(err, domain.KindInvalid))

	_, err = p.ComputeQuantity("X", budget("1", 1), decimal.NewFromInt(100000000))
	assert.True(t, domain.IsKind(err, domain.KindBelowMinimum))
}

func TestComputeQuantity_InstrumentRules(t *testing.T) {
	p := usecase.NewSizingPolicy(domain.InstrumentRules{Precision: 6}, map[string]domain.InstrumentRules{
		"BTCUSDT": {MinQuantity: decimal.RequireFromString("0.001"), Precision: 3},
		"ETHUSDT": {MinQuantity: decimal.RequireFromString("0.01"), Precision: 2, BelowMinimum: domain.BelowMinimumRoundUp},
	})

	qty, err := p.ComputeQuantity("BTCUSDT", budget("100", 5), decimal.NewFromInt(30000))
	require.NoError(t, err)
	assert.Equal(t, "0.017", qty.String())

	_, err = p.ComputeQuantity("BTCUSDT", budget("5", 1), decimal.NewFromInt(30000))
	assert.True(t, domain.IsKind(err, domain.KindBelowMinimum))

	// 0.006 rounds to 0.01 at two decimals, which is not below the minimum.
	qty, err = p.ComputeQuantity("ETHUSDT", budget("12", 1), decimal.NewFromInt(2000))
	require.NoError(t, err)
	assert.Equal(t, "0.01", qty.String())

	// Zero after rounding is rejected even under round_up.
	_, err = p.ComputeQuantity("ETHUSDT", budget("1", 1), decimal.NewFromInt(2000))
	assert.True(t, domain.IsKind(err, domain.KindBelowMinimum))

	assert.Equal(t, domain.BelowMinimumReject, p.Rules("SOLUSDT").BelowMinimum)
}
