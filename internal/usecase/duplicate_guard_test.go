package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vitos/signal_trader/internal/domain"
	"github.com/vitos/signal_trader/internal/usecase"
)

func TestDuplicateGuard_Window(t *testing.T) {
	clock := newFakeClock()
	g := usecase.NewDuplicateGuard(8*time.Second, clock.Now)

	assert.False(t, g.Recent("X", domain.Long))
	g.Record("X", domain.Long)
	assert.True(t, g.Recent("X", domain.Long))
	assert.False(t, g.Recent("X", domain.Short))
	assert.False(t, g.Recent("Y", domain.Long))

	clock.Advance(7 * time.Second)
	assert.True(t, g.Recent("X", domain.Long))
	clock.Advance(time.Second)
	assert.False(t, g.Recent("X", domain.Long))
}

func TestDuplicateGuard_FlipBackIsNotDuplicate(t *testing.T) {
	clock := newFakeClock()
	g := usecase.NewDuplicateGuard(8*time.Second, clock.Now)

	g.Record("X", domain.Long)
	clock.Advance(time.Second)
	g.Record("X", domain.Short)
	clock.Advance(time.Second)

	assert.False(t, g.Recent("X", domain.Long))
	assert.True(t, g.Recent("X", domain.Short))
}

func TestDuplicateGuard_PrunesExpired(t *testing.T) {
	clock := newFakeClock()
	g := usecase.NewDuplicateGuard(time.Second, clock.Now)

	g.Record("A", domain.Long)
	g.Record("B", domain.Short)
	assert.Equal(t, 2, g.Len())

	clock.Advance(2 * time.Second)
	g.Record("C", domain.Long)
	assert.Equal(t, 1, g.Len())
}

func TestDuplicateGuard_ZeroWindowDisables(t *testing.T) {
	g := usecase.NewDuplicateGuard(0, nil)
	g.Record("X", domain.Long)
	assert.False(t, g.Recent("X", domain.Long))
	assert.Zero(t, g.Len())
}
