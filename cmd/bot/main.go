package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/vitos/signal_trader/internal/config"
	"github.com/vitos/signal_trader/internal/domain"
	"github.com/vitos/signal_trader/internal/infrastructure/exchange"
	"github.com/vitos/signal_trader/internal/infrastructure/logger"
	"github.com/vitos/signal_trader/internal/infrastructure/metrics"
	"github.com/vitos/signal_trader/internal/infrastructure/storage"
	"github.com/vitos/signal_trader/internal/usecase"
	"github.com/vitos/signal_trader/internal/web"
	"go.uber.org/zap"
)

// app holds everything a command needs, built from one config file.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	exchange   exchange.Adapter
	store      *storage.SQLiteStore
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	hub        *web.OutcomeHub
	reconciler *usecase.Reconciler
}

func newApp(cmd *cli.Command) (*app, error) {
	// 1. Load Config
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("init sqlite: %w", err)
	}

	// 4. Init Exchange
	ex, err := exchange.New(cfg.ExchangeOptions(), log)
	if err != nil {
		store.Close()
		return nil, err
	}

	// 5. Init Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 6. Init Reconciler; the outcome hub only has subscribers under serve
	hub := web.NewOutcomeHub(log.Named("hub"))
	lock := usecase.NewInstrumentLock(log,
		usecase.WithLockPollInterval(cfg.Reconcile.LockPollInterval),
		usecase.WithLockStaleAfter(cfg.Reconcile.LockStaleAfter),
		usecase.WithStaleReclaimHook(collector.StaleLockReclaimed),
	)
	dedup := usecase.NewDuplicateGuard(cfg.Reconcile.DuplicateSuppressionWindow, time.Now)
	reconciler := usecase.NewReconciler(cfg.ReconcilerConfig(), ex, lock, dedup, cfg.Sizing(), store, log, collector, hub)

	log.Info("Signal trader initialised",
		zap.String("exchange", ex.Name()),
		zap.String("position_mode", cfg.Exchange.PositionMode),
		zap.String("budget_mode", cfg.Trading.BudgetMode),
		zap.String("risk_budget_per_trade", cfg.Trading.RiskBudgetPerTrade.String()),
		zap.Int("leverage", cfg.Trading.Leverage),
	)

	return &app{
		cfg:        cfg,
		log:        log,
		exchange:   ex,
		store:      store,
		registry:   registry,
		metrics:    collector,
		hub:        hub,
		reconciler: reconciler,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close storage", zap.Error(err))
	}
	_ = a.log.Sync()
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := web.NewHealthState(a.store.Ping)
	server := web.NewServer(
		a.cfg.Server.Port,
		a.reconciler,
		a.store,
		a.hub,
		health,
		promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		web.GatewayConfig{
			Secret:           a.cfg.Webhook.Secret,
			ReconcileTimeout: a.cfg.Reconcile.ReconcileTimeout,
			Normalize:        exchange.SymbolNormalizer(a.cfg.Exchange.Name),
		},
		a.log,
	)
	if a.cfg.Webhook.Secret == "" {
		a.log.Warn("Webhook secret not configured, accepting unauthenticated signals")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	health.SetReady(true)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("Shutting down...")
	health.SetReady(false)
	// In-flight reconciliations are allowed to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Reconcile.ReconcileTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func signalAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	target, err := domain.ParseDirection(cmd.String("side"))
	if err != nil {
		return err
	}
	instrument := exchange.SymbolNormalizer(a.cfg.Exchange.Name)(cmd.String("symbol"))

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Reconcile.ReconcileTimeout)
	defer cancel()

	outcome := a.reconciler.Reconcile(ctx, instrument, target)
	if err := printJSON(outcome); err != nil {
		return err
	}
	if outcome.Status == domain.StatusAborted {
		return cli.Exit("", 2)
	}
	return nil
}

func positionAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	instrument := exchange.SymbolNormalizer(a.cfg.Exchange.Name)(cmd.String("symbol"))
	pos, err := a.exchange.GetPosition(ctx, instrument)
	if err != nil {
		return err
	}
	return printJSON(pos)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	symbolFlag := &cli.StringFlag{
		Name:     "symbol",
		Aliases:  []string{"s"},
		Usage:    "Instrument, e.g. BTCUSDT",
		Required: true,
	}

	cmd := &cli.Command{
		Name:  "bot",
		Usage: "Reconcile futures positions to TradingView signals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Value:   config.DefaultPath,
				Sources: cli.EnvVars("SIGNAL_TRADER_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the webhook server",
				Action: serveAction,
			},
			{
				Name:  "signal",
				Usage: "Reconcile one instrument to a direction and print the outcome",
				Flags: []cli.Flag{
					symbolFlag,
					&cli.StringFlag{
						Name:     "side",
						Usage:    "buy|long|sell|short",
						Required: true,
					},
				},
				Action: signalAction,
			},
			{
				Name:   "position",
				Usage:  "Print the current position for an instrument",
				Flags:  []cli.Flag{symbolFlag},
				Action: positionAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
