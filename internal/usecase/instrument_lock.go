package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

var ErrLockTimeout = errors.New("instrument lock timeout")

const (
	DefaultLockPollInterval = 100 * time.Millisecond
	DefaultLockStaleAfter   = 30 * time.Second
)

// InstrumentLock serializes work per instrument. Entries older than StaleAfter
// are reclaimable by the next caller, so a hung holder cannot block an
// instrument forever.
type InstrumentLock struct {
	pollInterval time.Duration
	staleAfter   time.Duration
	now          func() time.Time
	logger       *zap.Logger
	onStale      func(instrument string)

	mu      sync.Mutex
	entries map[string]domain.LockEntry
}

type LockOption func(*InstrumentLock)

func WithLockPollInterval(d time.Duration) LockOption {
	return func(l *InstrumentLock) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

func WithLockStaleAfter(d time.Duration) LockOption {
	return func(l *InstrumentLock) {
		if d > 0 {
			l.staleAfter = d
		}
	}
}

func WithLockClock(now func() time.Time) LockOption {
	return func(l *InstrumentLock) {
		l.now = now
	}
}

// WithStaleReclaimHook registers a callback invoked each time a stale entry is
// taken over.
func WithStaleReclaimHook(fn func(instrument string)) LockOption {
	return func(l *InstrumentLock) {
		l.onStale = fn
	}
}

func NewInstrumentLock(logger *zap.Logger, opts ...LockOption) *InstrumentLock {
	l := &InstrumentLock{
		pollInterval: DefaultLockPollInterval,
		staleAfter:   DefaultLockStaleAfter,
		now:          time.Now,
		logger:       logger,
		entries:      make(map[string]domain.LockEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the instrument is free, its holder is stale, timeout
// elapses (ErrLockTimeout) or ctx is done.
func (l *InstrumentLock) Acquire(ctx context.Context, instrument string, timeout time.Duration) (string, error) {
	deadline := l.now().Add(timeout)
	for {
		if token, ok := l.tryAcquire(instrument); ok {
			return token, nil
		}
		if !l.now().Before(deadline) {
			return "", ErrLockTimeout
		}

		wait := l.pollInterval
		if remaining := deadline.Sub(l.now()); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", domain.NewError(domain.KindDeadlineExceeded, "lock.acquire", ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *InstrumentLock) tryAcquire(instrument string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, held := l.entries[instrument]; held {
		age := now.Sub(cur.AcquiredAt)
		if age < l.staleAfter {
			return "", false
		}
		l.logger.Warn("Reclaiming stale instrument lock",
			zap.String("instrument", instrument),
			zap.String("stale_token", cur.Token),
			zap.Duration("age", age),
		)
		if l.onStale != nil {
			l.onStale(instrument)
		}
	}

	token := uuid.NewString()
	l.entries[instrument] = domain.LockEntry{
		Instrument: instrument,
		Token:      token,
		AcquiredAt: now,
	}
	return token, true
}

// Release frees the instrument only if token still owns it. A late release
// from a holder whose entry was reclaimed is a no-op and returns false.
func (l *InstrumentLock) Release(instrument, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, held := l.entries[instrument]
	if !held || cur.Token != token {
		l.logger.Warn("Ignoring release of lock not held",
			zap.String("instrument", instrument),
			zap.String("token", token),
		)
		return false
	}
	delete(l.entries, instrument)
	return true
}

// Holders returns a snapshot of the current lock entries sorted by instrument.
func (l *InstrumentLock) Holders() []domain.LockEntry {
	l.mu.Lock()
	out := make([]domain.LockEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}
