package usecase

import (
	"sync"
	"time"

	"github.com/vitos/signal_trader/internal/domain"
)

const DefaultDuplicateWindow = 8 * time.Second

type lastDone struct {
	direction domain.Direction
	at        time.Time
}

// DuplicateGuard remembers the last successful reconciliation per instrument
// so a redelivered alert does not execute twice. A signal in the other
// direction is never a duplicate.
type DuplicateGuard struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]lastDone
}

// NewDuplicateGuard returns a guard with the given window. A zero window
// disables suppression.
func NewDuplicateGuard(window time.Duration, now func() time.Time) *DuplicateGuard {
	if now == nil {
		now = time.Now
	}
	return &DuplicateGuard{
		window: window,
		now:    now,
		last:   make(map[string]lastDone),
	}
}

func (g *DuplicateGuard) Recent(instrument string, dir domain.Direction) bool {
	if g.window <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, ok := g.last[instrument]
	return ok && prev.direction == dir && g.now().Sub(prev.at) < g.window
}

func (g *DuplicateGuard) Record(instrument string, dir domain.Direction) {
	if g.window <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, prev := range g.last {
		if now.Sub(prev.at) >= g.window {
			delete(g.last, k)
		}
	}
	g.last[instrument] = lastDone{direction: dir, at: now}
}

// Len is the number of tracked instruments, expired ones included until the next Record.
func (g *DuplicateGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}
