package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/signal_trader/internal/domain"
)

// MockExchange simulates a hedge-capable futures account for one or more
// instruments. Closes become visible to GetPosition only after CloseLag reads.
type MockExchange struct {
	mu sync.Mutex

	Price     decimal.Decimal
	PriceErrs []error
	ReadErrs  []error
	// SubmitErrs are returned, in order, for the given order side.
	SubmitErrs map[domain.OrderSide][]error
	// Rejects marks orders for the given side as not accepted.
	Rejects map[domain.OrderSide]bool
	// CloseLag is how many GetPosition calls keep returning the pre-close snapshot.
	CloseLag int
	// CallDelay slows every call down, to widen race windows in tests.
	CallDelay time.Duration
	Balance   decimal.Decimal

	long  map[string]decimal.Decimal
	short map[string]decimal.Decimal
	stale map[string]*staleView

	Orders         []domain.OrderRequest
	PositionReads  int
	PriceReads     int
	LeverageCalls  int
	inflight       map[string]int
	MaxInflight    map[string]int
	BothSidesSeen  bool
	OpenLandsOnErr bool
}

type staleView struct {
	pos   *domain.Position
	reads int
}

func NewMockExchange(price string) *MockExchange {
	return &MockExchange{
		Price:       decimal.RequireFromString(price),
		SubmitErrs:  map[domain.OrderSide][]error{},
		Rejects:     map[domain.OrderSide]bool{},
		long:        map[string]decimal.Decimal{},
		short:       map[string]decimal.Decimal{},
		stale:       map[string]*staleView{},
		inflight:    map[string]int{},
		MaxInflight: map[string]int{},
	}
}

func (m *MockExchange) SetPosition(instrument string, side domain.Side, size string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty := decimal.RequireFromString(size)
	switch side {
	case domain.SideLong:
		m.long[instrument] = qty
	case domain.SideShort:
		m.short[instrument] = qty
	}
}

func (m *MockExchange) Legs(instrument string) (long, short decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.long[instrument], m.short[instrument]
}

func (m *MockExchange) OrderSides() []domain.OrderSide {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderSide, 0, len(m.Orders))
	for _, o := range m.Orders {
		out = append(out, o.Side)
	}
	return out
}

func (m *MockExchange) enter(instrument string) {
	m.mu.Lock()
	m.inflight[instrument]++
	if m.inflight[instrument] > m.MaxInflight[instrument] {
		m.MaxInflight[instrument] = m.inflight[instrument]
	}
	delay := m.CallDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (m *MockExchange) leave(instrument string) {
	m.mu.Lock()
	m.inflight[instrument]--
	m.mu.Unlock()
}

func (m *MockExchange) Name() string { return "mock" }

func (m *MockExchange) GetPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	m.enter(instrument)
	defer m.leave(instrument)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PriceReads++
	if len(m.PriceErrs) > 0 {
		err := m.PriceErrs[0]
		m.PriceErrs = m.PriceErrs[1:]
		return decimal.Zero, err
	}
	return m.Price, nil
}

func (m *MockExchange) GetPosition(ctx context.Context, instrument string) (*domain.Position, error) {
	m.enter(instrument)
	defer m.leave(instrument)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PositionReads++
	if len(m.ReadErrs) > 0 {
		err := m.ReadErrs[0]
		m.ReadErrs = m.ReadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if sv, ok := m.stale[instrument]; ok {
		if sv.reads > 0 {
			sv.reads--
			return sv.pos, nil
		}
		delete(m.stale, instrument)
	}
	return m.snapshot(instrument), nil
}

func (m *MockExchange) snapshot(instrument string) *domain.Position {
	l, s := m.long[instrument], m.short[instrument]
	if l.IsPositive() && s.IsPositive() {
		m.BothSidesSeen = true
	}
	return domain.MergeLegs([]domain.Position{
		{Exchange: "mock", Instrument: instrument, Side: domain.SideLong, Size: l, Available: l},
		{Exchange: "mock", Instrument: instrument, Side: domain.SideShort, Size: s, Available: s},
	})
}

func (m *MockExchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	m.enter(req.Instrument)
	defer m.leave(req.Instrument)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, req)

	if errs := m.SubmitErrs[req.Side]; len(errs) > 0 {
		err := errs[0]
		m.SubmitErrs[req.Side] = errs[1:]
		if err != nil {
			if m.OpenLandsOnErr && !req.Side.IsClose() {
				m.apply(req)
			}
			return domain.OrderResult{}, err
		}
	}
	if m.Rejects[req.Side] {
		return domain.OrderResult{Accepted: false}, nil
	}

	if req.Side.IsClose() && m.CloseLag > 0 {
		m.stale[req.Instrument] = &staleView{pos: m.snapshot(req.Instrument), reads: m.CloseLag}
	}
	m.apply(req)
	return domain.OrderResult{Accepted: true, OrderID: req.ClientID}, nil
}

func (m *MockExchange) apply(req domain.OrderRequest) {
	legs := m.long
	if req.Side.Direction() == domain.Short {
		legs = m.short
	}
	if req.Side.IsClose() {
		left := legs[req.Instrument].Sub(req.Quantity)
		if !left.IsPositive() {
			left = decimal.Zero
		}
		legs[req.Instrument] = left
		return
	}
	legs[req.Instrument] = legs[req.Instrument].Add(req.Quantity)
}

func (m *MockExchange) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeverageCalls++
	return nil
}

func (m *MockExchange) GetAvailableBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	orders   []domain.Order
	attempts []domain.Attempt
}

func (o *recordingObserver) OrderSubmitted(order domain.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders = append(o.orders, order)
}

func (o *recordingObserver) AttemptFinished(attempt domain.Attempt, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, attempt)
}
