package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/signal_trader/internal/domain"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.OrderSubmitted(domain.Order{Side: domain.CloseShort, Quantity: decimal.NewFromInt(2), Accepted: true})
	c.OrderSubmitted(domain.Order{Side: domain.OpenLong, Error: "unavailable"})
	c.OrderSubmitted(domain.Order{Side: domain.OpenLong})
	c.AttemptFinished(domain.Attempt{Outcome: domain.Outcome{
		Status: domain.StatusDone,
		Reason: domain.ReasonOpened,
		Detail: map[string]any{"lock_wait_ms": int64(250)},
	}}, 1500*time.Millisecond)
	c.AttemptFinished(domain.Attempt{Outcome: domain.Outcome{Status: domain.StatusSkipped, Reason: domain.ReasonDuplicate}}, time.Millisecond)
	c.StaleLockReclaimed("X")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("CLOSE_SHORT", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("OPEN_LONG", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("OPEN_LONG", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconciles.WithLabelValues("DONE", "opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconciles.WithLabelValues("SKIPPED", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.staleReclaim.WithLabelValues("X")))

	expected := `
# HELP signal_trader_lock_wait_seconds Time spent waiting for the per-instrument lock
# TYPE signal_trader_lock_wait_seconds histogram
signal_trader_lock_wait_seconds_bucket{le="0.001"} 0
signal_trader_lock_wait_seconds_bucket{le="0.01"} 0
signal_trader_lock_wait_seconds_bucket{le="0.1"} 0
signal_trader_lock_wait_seconds_bucket{le="0.5"} 1
signal_trader_lock_wait_seconds_bucket{le="1"} 1
signal_trader_lock_wait_seconds_bucket{le="2"} 1
signal_trader_lock_wait_seconds_bucket{le="5"} 1
signal_trader_lock_wait_seconds_bucket{le="+Inf"} 1
signal_trader_lock_wait_seconds_sum 0.25
signal_trader_lock_wait_seconds_count 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "signal_trader_lock_wait_seconds"))
}
