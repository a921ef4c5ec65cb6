package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

// State is a step of a single reconciliation; every transition is logged.
type State string

const (
	StateStart          State = "START"
	StateLocked         State = "LOCKED"
	StatePositionRead   State = "POSITION_READ"
	StateClosing        State = "CLOSING"
	StateCloseVerifying State = "CLOSE_VERIFYING"
	StateSizing         State = "SIZING"
	StateOpening        State = "OPENING"
	StateDone           State = "DONE"
	StateSkipped        State = "SKIPPED"
	StateAborted        State = "ABORTED"
)

// BudgetMode selects where the per-trade budget comes from: the configured
// amount or a fraction of the available balance.
type BudgetMode string

const (
	BudgetFixed   BudgetMode = "fixed"
	BudgetBalance BudgetMode = "balance"
)

// SameDirectionPolicy decides what a signal does when the account already
// holds a position in the signalled direction.
type SameDirectionPolicy string

const (
	SameDirectionNoop  SameDirectionPolicy = "noop"
	SameDirectionTopUp SameDirectionPolicy = "top_up"
)

// ReconcilerConfig holds the budget, policies and timing bounds of a Reconciler.
// Zero values are replaced by defaults.
type ReconcilerConfig struct {
	Budget          domain.RiskBudget
	BudgetMode      BudgetMode
	BalanceFraction decimal.Decimal
	MarginCoin      string
	SameDirection   SameDirectionPolicy

	LockTimeout            time.Duration
	CloseVerifyMaxAttempts int
	CloseVerifyInterval    time.Duration
	PositionReadAttempts   int
	RetryBackoff           time.Duration
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.BudgetMode == "" {
		c.BudgetMode = BudgetFixed
	}
	if c.BalanceFraction.IsZero() {
		c.BalanceFraction = decimal.NewFromInt(1)
	}
	if c.MarginCoin == "" {
		c.MarginCoin = "USDT"
	}
	if c.SameDirection == "" {
		c.SameDirection = SameDirectionNoop
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.CloseVerifyMaxAttempts <= 0 {
		c.CloseVerifyMaxAttempts = 5
	}
	if c.CloseVerifyInterval <= 0 {
		c.CloseVerifyInterval = 2 * time.Second
	}
	if c.PositionReadAttempts <= 0 {
		c.PositionReadAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Observer is notified of reconciliation activity. Implementations must not block.
type Observer interface {
	OrderSubmitted(order domain.Order)
	AttemptFinished(attempt domain.Attempt, elapsed time.Duration)
}

// Reconciler drives an instrument's position on the exchange to a target
// direction: close whatever conflicts, verify the close, then open.
type Reconciler struct {
	cfg       ReconcilerConfig
	exchange  domain.Exchange
	lock      *InstrumentLock
	dedup     *DuplicateGuard
	sizing    *SizingPolicy
	journal   domain.AttemptRepository
	observers []Observer
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciler(
	cfg ReconcilerConfig,
	exchange domain.Exchange,
	lock *InstrumentLock,
	dedup *DuplicateGuard,
	sizing *SizingPolicy,
	journal domain.AttemptRepository,
	logger *zap.Logger,
	observers ...Observer,
) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{
		cfg:       cfg,
		exchange:  exchange,
		lock:      lock,
		dedup:     dedup,
		sizing:    sizing,
		journal:   journal,
		observers: observers,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Reconciler) Locks() []domain.LockEntry {
	return r.lock.Holders()
}

// attemptRun carries the state of a single Reconcile call.
type attemptRun struct {
	attempt domain.Attempt
	state   State
	detail  map[string]any
	log     *zap.Logger
}

func (a *attemptRun) outcome(status domain.Status, reason string) domain.Outcome {
	return domain.Outcome{Status: status, Reason: reason, Detail: a.detail}
}

// Reconcile brings instrument to the target direction. It never returns an
// error: every failure is reported as an ABORTED outcome.
func (r *Reconciler) Reconcile(ctx context.Context, instrument string, target domain.Direction) domain.Outcome {
	started := r.now()
	id := uuid.NewString()
	run := &attemptRun{
		attempt: domain.Attempt{
			ID:         id,
			Exchange:   r.exchange.Name(),
			Instrument: instrument,
			Target:     target,
			StartedAt:  started,
		},
		state: StateStart,
		detail: map[string]any{
			"attempt_id": id,
			"instrument": instrument,
			"target":     string(target),
		},
		log: r.logger.With(
			zap.String("attempt_id", id),
			zap.String("instrument", instrument),
			zap.String("target", string(target)),
		),
	}

	outcome := r.reconcile(ctx, run)

	run.attempt.FinishedAt = r.now()
	run.attempt.Outcome = outcome
	r.finish(ctx, run)
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, run *attemptRun) domain.Outcome {
	instrument, target := run.attempt.Instrument, run.attempt.Target
	if instrument == "" || !target.Valid() {
		return r.abort(run, domain.ReasonInvalidSignal, fmt.Errorf("instrument %q target %q", instrument, target))
	}

	if r.dedup.Recent(instrument, target) {
		return r.skip(run, domain.ReasonDuplicate)
	}

	waitStart := r.now()
	token, err := r.lock.Acquire(ctx, instrument, r.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return r.skip(run, domain.ReasonLocked)
		}
		return r.abort(run, domain.ReasonDeadlineExceeded, err)
	}
	defer r.lock.Release(instrument, token)
	run.detail["lock_wait_ms"] = r.now().Sub(waitStart).Milliseconds()
	r.transition(run, StateLocked)

	// An identical signal may have completed while this one waited for the lock.
	if r.dedup.Recent(instrument, target) {
		return r.skip(run, domain.ReasonDuplicate)
	}

	pos, err := r.readPosition(ctx, run)
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(run, domain.ReasonDeadlineExceeded, err)
		}
		return r.abort(run, domain.ReasonPositionUnreadable, err)
	}
	r.transition(run, StatePositionRead)
	if !pos.IsFlat() {
		run.detail["position_side"] = string(pos.Side)
		run.detail["position_size"] = pos.Size.String()

		// An inconsistent snapshot is never trusted as already on target: the
		// reported side is closed and the target reopened.
		consistent := pos.Consistent()
		if !consistent {
			run.log.Warn("Inconsistent position snapshot, closing it",
				zap.String("side", string(pos.Side)),
				zap.String("size", pos.Size.String()),
				zap.String("available", pos.Available.String()),
			)
			run.detail["inconsistent_position"] = true
		}

		if consistent && pos.Side == target.Side() {
			if r.cfg.SameDirection != SameDirectionTopUp {
				run.log.Info("Already in target state, not adding to position",
					zap.String("size", pos.Size.String()),
				)
				return r.done(run, domain.ReasonAlreadyInTarget)
			}
			run.log.Info("Already in target state, topping up", zap.String("size", pos.Size.String()))
		} else if out, finished := r.closeConflicting(ctx, run, pos, pos.Side); finished {
			return out
		}
	}

	if err := ctx.Err(); err != nil {
		return r.abort(run, domain.ReasonDeadlineExceeded, err)
	}
	r.transition(run, StateSizing)
	qty, out, ok := r.size(ctx, run)
	if !ok {
		return out
	}

	if err := ctx.Err(); err != nil {
		return r.abort(run, domain.ReasonDeadlineExceeded, err)
	}
	r.transition(run, StateOpening)
	return r.open(ctx, run, qty)
}

// closeConflicting closes the position on side (or, when side is unknown, the
// side opposite to the target) and waits until the exchange shows it gone.
// The close is sized by min(available, size) of the closed leg.
// finished is true when the returned outcome ends the attempt.
func (r *Reconciler) closeConflicting(ctx context.Context, run *attemptRun, pos *domain.Position, side domain.Side) (domain.Outcome, bool) {
	target := run.attempt.Target
	closeDir, known := domain.DirectionOf(side)
	if !known {
		closeDir = target.Opposite()
	}

	if err := ctx.Err(); err != nil {
		return r.abort(run, domain.ReasonDeadlineExceeded, err), true
	}
	r.transition(run, StateClosing)

	src := pos
	if len(pos.Legs) > 0 {
		// Both legs open: close only the conflicting one.
		src = pos.Leg(closeDir.Side())
		if src == nil {
			src = &domain.Position{}
		}
	}
	qty := src.Available
	if qty.GreaterThan(src.Size) {
		qty = src.Size
	}
	closeSide := domain.CloseSide(closeDir)
	run.detail["closed_side"] = string(closeSide)
	run.detail["closed_quantity"] = qty.String()

	if qty.IsPositive() {
		res, err := r.submit(ctx, run, closeSide, qty)
		if err == nil && !res.Accepted {
			err = domain.Errorf(domain.KindRejected, "close", "order not accepted")
		}
		if err != nil {
			return r.abort(run, domain.ReasonCloseFailed, domain.NewError(domain.KindCloseFailed, "close", err)), true
		}
		run.detail["close_order_id"] = res.OrderID
	} else {
		run.log.Info("Position has nothing available, already pending closure",
			zap.String("size", pos.Size.String()),
		)
	}

	if err := ctx.Err(); err != nil {
		return r.abort(run, domain.ReasonDeadlineExceeded, err), true
	}
	r.transition(run, StateCloseVerifying)
	remaining, err := r.verifyClose(ctx, run, closeDir.Side())
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(run, domain.ReasonDeadlineExceeded, err), true
		}
		return r.abort(run, domain.ReasonCloseUnverified, err), true
	}

	if !remaining.IsFlat() && remaining.Side == target.Side() {
		run.log.Info("Conflicting leg closed, remaining position already in target direction",
			zap.String("size", remaining.Size.String()),
		)
		return r.done(run, domain.ReasonClosedRemainingInTarget), true
	}
	return domain.Outcome{}, false
}

// verifyClose polls the position until nothing remains on closedSide.
func (r *Reconciler) verifyClose(ctx context.Context, run *attemptRun, closedSide domain.Side) (*domain.Position, error) {
	var lastErr error
	for poll := 1; poll <= r.cfg.CloseVerifyMaxAttempts; poll++ {
		if err := sleepCtx(ctx, r.cfg.CloseVerifyInterval); err != nil {
			return nil, err
		}
		run.detail["verify_polls"] = poll

		pos, err := r.exchange.GetPosition(ctx, run.attempt.Instrument)
		if err != nil {
			lastErr = err
			run.log.Warn("Close verification read failed", zap.Int("poll", poll), zap.Error(err))
			continue
		}
		if pos.IsFlat() || (pos.Side != closedSide && pos.Side != domain.SideUnknown && pos.Consistent()) {
			run.log.Info("Close verified", zap.Int("poll", poll))
			return pos, nil
		}
		lastErr = fmt.Errorf("position still %s %s", pos.Side, pos.Size)
		run.log.Info("Close not yet visible", zap.Int("poll", poll), zap.String("size", pos.Size.String()))
	}
	return nil, fmt.Errorf("close not verified after %d polls: %w", r.cfg.CloseVerifyMaxAttempts, lastErr)
}

// size fetches a fresh price and turns the risk budget into a quantity.
func (r *Reconciler) size(ctx context.Context, run *attemptRun) (decimal.Decimal, domain.Outcome, bool) {
	instrument := run.attempt.Instrument

	price, err := retryRead(ctx, r, run, "price", func() (decimal.Decimal, error) {
		return r.exchange.GetPrice(ctx, instrument)
	})
	if err != nil {
		if ctx.Err() != nil {
			return decimal.Zero, r.abort(run, domain.ReasonDeadlineExceeded, err), false
		}
		return decimal.Zero, r.abort(run, domain.ReasonPriceUnavailable, err), false
	}
	run.detail["price"] = price.String()

	budget, err := r.budget(ctx, run)
	if err != nil {
		return decimal.Zero, r.abort(run, domain.ReasonSizingFailed, err), false
	}

	qty, err := r.sizing.ComputeQuantity(instrument, budget, price)
	if err != nil {
		return decimal.Zero, r.abort(run, domain.ReasonSizingFailed, err), false
	}
	run.detail["quantity"] = qty.String()
	run.detail["notional"] = budget.Notional().String()
	run.log.Info("Order sized",
		zap.String("price", price.String()),
		zap.String("notional", budget.Notional().String()),
		zap.String("quantity", qty.String()),
	)
	return qty, domain.Outcome{}, true
}

func (r *Reconciler) budget(ctx context.Context, run *attemptRun) (domain.RiskBudget, error) {
	budget := r.cfg.Budget
	if r.cfg.BudgetMode != BudgetBalance {
		return budget, nil
	}
	reader, ok := r.exchange.(domain.BalanceReader)
	if !ok {
		run.log.Warn("Exchange cannot report balance, using fixed budget")
		return budget, nil
	}
	balance, err := retryRead(ctx, r, run, "balance", func() (decimal.Decimal, error) {
		return reader.GetAvailableBalance(ctx, r.cfg.MarginCoin)
	})
	if err != nil {
		return budget, fmt.Errorf("read balance: %w", err)
	}
	budget.PerTrade = balance.Mul(r.cfg.BalanceFraction)
	run.detail["balance"] = balance.String()
	return budget, nil
}

// open submits the opening order with at most one retry. The retry only
// happens after a fresh read shows the account still flat, because the
// exchange does not deduplicate orders.
func (r *Reconciler) open(ctx context.Context, run *attemptRun, qty decimal.Decimal) domain.Outcome {
	target := run.attempt.Target
	side := domain.OpenSide(target)

	if setter, ok := r.exchange.(domain.LeverageSetter); ok {
		if err := setter.SetLeverage(context.WithoutCancel(ctx), run.attempt.Instrument, r.cfg.Budget.Leverage); err != nil {
			run.log.Warn("Failed to set leverage, continuing", zap.Int("leverage", r.cfg.Budget.Leverage), zap.Error(err))
		}
	}

	res, err := r.submit(ctx, run, side, qty)
	if err == nil && res.Accepted {
		return r.opened(run, res)
	}
	if err == nil {
		err = domain.Errorf(domain.KindRejected, "open", "order not accepted")
	}
	run.log.Warn("Open order failed, checking position before one retry", zap.Error(err))

	if serr := sleepCtx(ctx, r.cfg.RetryBackoff); serr != nil {
		return r.abort(run, domain.ReasonDeadlineExceeded, errors.Join(err, serr))
	}
	pos, perr := r.exchange.GetPosition(ctx, run.attempt.Instrument)
	if perr != nil {
		return r.abort(run, domain.ReasonOpenFailed, domain.NewError(domain.KindOpenFailed, "open", errors.Join(err, perr)))
	}
	if !pos.IsFlat() {
		if pos.Side == target.Side() && pos.Consistent() {
			run.log.Info("Open order landed despite error", zap.String("size", pos.Size.String()))
			return r.opened(run, domain.OrderResult{Accepted: true})
		}
		return r.abort(run, domain.ReasonOpenFailed, domain.Errorf(domain.KindOpenFailed, "open", "unexpected position %s %s after failed open: %v", pos.Side, pos.Size, err))
	}

	res, err = r.submit(ctx, run, side, qty)
	if err == nil && !res.Accepted {
		err = domain.Errorf(domain.KindRejected, "open", "order not accepted")
	}
	if err != nil {
		return r.abort(run, domain.ReasonOpenFailed, domain.NewError(domain.KindOpenFailed, "open", err))
	}
	run.detail["open_retried"] = true
	return r.opened(run, res)
}

func (r *Reconciler) opened(run *attemptRun, res domain.OrderResult) domain.Outcome {
	if res.OrderID != "" {
		run.detail["order_id"] = res.OrderID
	}
	return r.done(run, domain.ReasonOpened)
}

// submit sends one order. The call is detached from ctx cancellation so a
// deadline never interrupts an order in flight; the adapter's own timeout
// still applies.
func (r *Reconciler) submit(ctx context.Context, run *attemptRun, side domain.OrderSide, qty decimal.Decimal) (domain.OrderResult, error) {
	req := domain.OrderRequest{
		Instrument: run.attempt.Instrument,
		Side:       side,
		Quantity:   qty,
		ClientID:   uuid.NewString(),
	}
	run.log.Info("Submitting order", zap.String("side", string(side)), zap.String("quantity", qty.String()))

	res, err := r.exchange.SubmitOrder(context.WithoutCancel(ctx), req)

	order := domain.Order{
		AttemptID:  run.attempt.ID,
		Exchange:   r.exchange.Name(),
		Instrument: req.Instrument,
		Side:       side,
		Quantity:   qty,
		OrderID:    res.OrderID,
		Accepted:   err == nil && res.Accepted,
		CreatedAt:  r.now(),
	}
	if err != nil {
		order.Error = err.Error()
		run.log.Error("Order submission failed", zap.String("side", string(side)), zap.Error(err))
	} else {
		run.log.Info("Order submitted",
			zap.String("side", string(side)),
			zap.String("order_id", res.OrderID),
			zap.Bool("accepted", res.Accepted),
		)
	}
	for _, o := range r.observers {
		o.OrderSubmitted(order)
	}
	if r.journal != nil {
		if jerr := r.journal.SaveOrder(context.WithoutCancel(ctx), &order); jerr != nil {
			run.log.Warn("Failed to journal order", zap.Error(jerr))
		}
	}
	return res, err
}

// readPosition reads the current position, retrying transient failures.
func (r *Reconciler) readPosition(ctx context.Context, run *attemptRun) (*domain.Position, error) {
	return retryRead(ctx, r, run, "position", func() (*domain.Position, error) {
		return r.exchange.GetPosition(ctx, run.attempt.Instrument)
	})
}

// retryRead retries op on Unavailable errors with exponential backoff, up to
// PositionReadAttempts tries. Any other error kind is returned at once.
func retryRead[T any](ctx context.Context, r *Reconciler, run *attemptRun, what string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 8 * r.cfg.RetryBackoff
	b.Reset()

	return backoff.Retry(ctx,
		func() (T, error) {
			v, err := op()
			if err != nil && !domain.IsKind(err, domain.KindUnavailable) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.PositionReadAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			run.log.Warn("Exchange read failed, retrying",
				zap.String("read", what),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
}

func (r *Reconciler) transition(run *attemptRun, next State) {
	run.log.Info("Reconcile state", zap.String("from", string(run.state)), zap.String("to", string(next)))
	run.state = next
}

func (r *Reconciler) done(run *attemptRun, reason string) domain.Outcome {
	r.transition(run, StateDone)
	r.dedup.Record(run.attempt.Instrument, run.attempt.Target)
	return run.outcome(domain.StatusDone, reason)
}

func (r *Reconciler) skip(run *attemptRun, reason string) domain.Outcome {
	r.transition(run, StateSkipped)
	run.log.Info("Reconcile skipped", zap.String("reason", reason))
	return run.outcome(domain.StatusSkipped, reason)
}

func (r *Reconciler) abort(run *attemptRun, reason string, err error) domain.Outcome {
	r.transition(run, StateAborted)
	if err != nil {
		run.detail["error"] = err.Error()
		if kind := domain.KindOf(err); kind != domain.KindUnknown {
			run.detail["error_kind"] = string(kind)
		}
	}
	run.log.Error("Reconcile aborted", zap.String("reason", reason), zap.Error(err))
	return run.outcome(domain.StatusAborted, reason)
}

func (r *Reconciler) finish(ctx context.Context, run *attemptRun) {
	elapsed := run.attempt.FinishedAt.Sub(run.attempt.StartedAt)
	run.log.Info("Reconcile finished",
		zap.String("status", string(run.attempt.Outcome.Status)),
		zap.String("reason", run.attempt.Outcome.Reason),
		zap.Duration("elapsed", elapsed),
	)
	for _, o := range r.observers {
		o.AttemptFinished(run.attempt, elapsed)
	}
	if r.journal != nil {
		if err := r.journal.SaveAttempt(context.WithoutCancel(ctx), &run.attempt); err != nil {
			run.log.Warn("Failed to journal attempt", zap.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
