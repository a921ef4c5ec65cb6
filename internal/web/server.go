package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

// SignalReconciler is the part of the reconciler the gateway drives.
type SignalReconciler interface {
	Reconcile(ctx context.Context, instrument string, target domain.Direction) domain.Outcome
	Locks() []domain.LockEntry
}

type GatewayConfig struct {
	// Secret, when set, must match the "secret" field of every webhook.
	Secret string
	// ReconcileTimeout bounds one reconciliation started by a webhook.
	ReconcileTimeout time.Duration
	// Normalize maps alert tickers onto exchange instruments.
	Normalize func(string) string
}

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	reconciler SignalReconciler
	journal    domain.AttemptRepository
	hub        *OutcomeHub
	health     *HealthState
	metrics    http.Handler
	cfg        GatewayConfig
	logger     *zap.Logger
}

func NewServer(
	port int,
	reconciler SignalReconciler,
	journal domain.AttemptRepository,
	hub *OutcomeHub,
	health *HealthState,
	metrics http.Handler,
	cfg GatewayConfig,
	logger *zap.Logger,
) *Server {
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 40 * time.Second
	}
	if cfg.Normalize == nil {
		cfg.Normalize = func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
	}
	if health == nil {
		health = NewHealthState(nil)
	}
	s := &Server{
		router:     http.NewServeMux(),
		reconciler: reconciler,
		journal:    journal,
		hub:        hub,
		health:     health,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Signals
	s.router.HandleFunc("POST /webhook", s.handleWebhook)

	// Journal and engine state
	s.router.HandleFunc("GET /api/attempts", s.handleListAttempts)
	s.router.HandleFunc("GET /api/attempts/{id}/orders", s.handleListOrders)
	s.router.HandleFunc("GET /api/locks", s.handleListLocks)

	// Live outcome feed
	if s.hub != nil {
		s.router.HandleFunc("GET /ws/outcomes", s.hub.ServeWS)
	}

	// Health
	s.router.HandleFunc("GET /livez", s.health.handleLive)
	s.router.HandleFunc("GET /readyz", s.health.handleReady)
	s.router.HandleFunc("GET /healthz", s.health.handleHealth)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}
