// Package metrics exposes reconciliation activity as Prometheus metrics:
//
//	signal_trader_reconcile_total{status,reason}   finished attempts
//	signal_trader_orders_total{side,result}        submitted orders (accepted|rejected|error)
//	signal_trader_reconcile_duration_seconds       attempt wall time
//	signal_trader_lock_wait_seconds                time spent waiting for the instrument lock
//	signal_trader_stale_lock_reclaims_total        stale lock entries taken over
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitos/signal_trader/internal/domain"
)

// Collector implements usecase.Observer.
type Collector struct {
	reconciles   *prometheus.CounterVec
	orders       *prometheus.CounterVec
	duration     prometheus.Histogram
	lockWait     prometheus.Histogram
	staleReclaim *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_trader_reconcile_total",
				Help: "Reconciliation attempts by final status and reason",
			},
			[]string{"status", "reason"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_trader_orders_total",
				Help: "Orders submitted to the exchange",
			},
			[]string{"side", "result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signal_trader_reconcile_duration_seconds",
				Help:    "Wall time of one reconciliation attempt",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
			},
		),
		lockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signal_trader_lock_wait_seconds",
				Help:    "Time spent waiting for the per-instrument lock",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
			},
		),
		staleReclaim: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_trader_stale_lock_reclaims_total",
				Help: "Stale instrument lock entries forcibly reclaimed",
			},
			[]string{"instrument"},
		),
	}
	reg.MustRegister(c.reconciles, c.orders, c.duration, c.lockWait, c.staleReclaim)
	return c
}

func (c *Collector) OrderSubmitted(order domain.Order) {
	result := "rejected"
	switch {
	case order.Error != "":
		result = "error"
	case order.Accepted:
		result = "accepted"
	}
	c.orders.WithLabelValues(string(order.Side), result).Inc()
}

func (c *Collector) AttemptFinished(attempt domain.Attempt, elapsed time.Duration) {
	c.reconciles.WithLabelValues(string(attempt.Outcome.Status), attempt.Outcome.Reason).Inc()
	c.duration.Observe(elapsed.Seconds())
	if ms, ok := attempt.Outcome.Detail["lock_wait_ms"].(int64); ok {
		c.lockWait.Observe(float64(ms) / 1000)
	}
}

// StaleLockReclaimed matches the usecase.WithStaleReclaimHook callback.
func (c *Collector) StaleLockReclaimed(instrument string) {
	c.staleReclaim.WithLabelValues(instrument).Inc()
}
