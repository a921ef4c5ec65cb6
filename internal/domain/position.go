package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong    Side = "LONG"
	SideShort   Side = "SHORT"
	SideUnknown Side = "UNKNOWN"
)

// Position is a snapshot of the exchange's exposure on one instrument.
// A nil *Position, or one with zero Size, means flat.
type Position struct {
	Exchange   string          `json:"exchange"`
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Available  decimal.Decimal `json:"available"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   int             `json:"leverage"`
	// Legs holds the per-side positions when more than one is open (hedge
	// mode). Side is then SideUnknown and Size/Available are the totals.
	Legs []Position `json:"legs,omitempty"`
}

// MergeLegs folds per-side legs into one snapshot. No open leg yields nil,
// one leg is returned as is, several yield a SideUnknown position.
func MergeLegs(legs []Position) *Position {
	open := make([]Position, 0, len(legs))
	for _, l := range legs {
		if l.Size.IsPositive() {
			open = append(open, l)
		}
	}
	switch len(open) {
	case 0:
		return nil
	case 1:
		return &open[0]
	}
	merged := Position{
		Exchange:   open[0].Exchange,
		Instrument: open[0].Instrument,
		Side:       SideUnknown,
		Legs:       open,
	}
	for _, l := range open {
		merged.Size = merged.Size.Add(l.Size)
		merged.Available = merged.Available.Add(l.Available)
	}
	return &merged
}

// Leg returns the open leg on side, or nil.
func (p *Position) Leg(side Side) *Position {
	if p == nil {
		return nil
	}
	if p.Side == side && len(p.Legs) == 0 {
		return p
	}
	for i := range p.Legs {
		if p.Legs[i].Side == side {
			return &p.Legs[i]
		}
	}
	return nil
}

// IsFlat reports whether p carries no exposure.
func (p *Position) IsFlat() bool {
	return p == nil || !p.Size.IsPositive()
}

// Consistent checks the invariants adapters must uphold: non-negative sizes
// and Available <= Size.
func (p *Position) Consistent() bool {
	if p == nil {
		return true
	}
	if p.Size.IsNegative() || p.Available.IsNegative() {
		return false
	}
	return p.Available.LessThanOrEqual(p.Size)
}

// OrderRequest is a single market order against an instrument.
type OrderRequest struct {
	Instrument string
	Side       OrderSide
	Quantity   decimal.Decimal
	ClientID   string
}

// OrderResult is what the exchange answered for a submitted order.
type OrderResult struct {
	Accepted bool
	OrderID  string
}

// Order is a journaled order submitted by the reconciler.
type Order struct {
	AttemptID  string          `json:"attempt_id"`
	Exchange   string          `json:"exchange"`
	Instrument string          `json:"instrument"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderID    string          `json:"order_id,omitempty"`
	Accepted   bool            `json:"accepted"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
