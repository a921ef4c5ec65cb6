package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Exchange defines the calls the reconciler makes against a futures exchange.
// Implementations own signing, transport timeouts and JSON mapping, and must
// never return a partially populated Position.
type Exchange interface {
	Name() string
	GetPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
	GetPosition(ctx context.Context, instrument string) (*Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// BalanceReader is implemented by exchanges that can report the available
// margin balance for a coin.
type BalanceReader interface {
	GetAvailableBalance(ctx context.Context, coin string) (decimal.Decimal, error)
}

// LeverageSetter is implemented by exchanges where leverage must be set
// before an opening order.
type LeverageSetter interface {
	SetLeverage(ctx context.Context, instrument string, leverage int) error
}

// AttemptRepository stores finished reconciliation attempts and the orders
// they submitted.
type AttemptRepository interface {
	SaveAttempt(ctx context.Context, attempt *Attempt) error
	SaveOrder(ctx context.Context, order *Order) error
	ListAttempts(ctx context.Context, limit int) ([]*Attempt, error)
	ListOrders(ctx context.Context, attemptID string) ([]*Order, error)
}
