package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"zhunleme/internal/api"
	"zhunleme/internal/backtest"
	"zhunleme/internal/config"
	"zhunleme/internal/gather/cn"
	"zhunleme/internal/httpapi"
	"zhunleme/internal/quota"
	"zhunleme/internal/rank"
	"zhunleme/internal/scheduler"
	"zhunleme/internal/store"
	"zhunleme/internal/util"
)

func main() {
	cfgPath := "config/zlm.yaml"
	if p := os.Getenv("ZLM_CONFIG"); p != "" {
		cfgPath = p
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfgPath)
	cancel()
	if err != nil {
		log.Printf("zlm-server: %v", err)
		os.Exit(1)
	}
}

// run wires the server from the config at cfgPath and serves until ctx is
// cancelled. Every resource it opens is released before it returns.
func run(ctx context.Context, cfgPath string) error {
	// Load config.
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Setup logging.
	logger, closer := util.NewLogger(cfg.Logging)
	defer closer.Close()
	util.SetDefault(logger)

	// Open store.
	db, err := store.OpenSQL(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}
	defer db.Close()

	// Sources and services.
	calendar := util.NewTradingCalendar()
	sources := cn.NewSources(cfg.Sources, logger)

	backtests := backtest.NewService(backtest.Config{
		MaxStocks:        cfg.Backtest.MaxStocks,
		Workers:          cfg.Backtest.Workers,
		DefaultBenchmark: cfg.Backtest.DefaultBenchmark,
	}, backtest.Deps{
		Stocks:    db,
		Quotes:    db,
		Backtests: db,
		Fallback:  sources.Fallback(logger),
		Calendar:  calendar,
	}, logger)
	ranks := rank.NewService(db, db, calendar, logger)
	quotas := quota.NewReporter(cfg.Quota, calendar)

	// Scheduled quote sync.
	if cfg.Sync.Cron != "" {
		sched := scheduler.New(ctx, logger)
		if err := sched.Register(cfg.Sync.Cron, sources.NewSyncer(cfg.Sync, db, logger)); err != nil {
			return fmt.Errorf("scheduling sync: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	// Serve.
	handler := httpapi.NewServer(cfg.Server.APIPrefix, backtests, ranks, quotas, db, logger).Handler()
	monitor := api.NewHealthMonitor(db, 0, logger)
	srv := api.NewServer(cfg, handler, monitor, logger)

	logger.Info("zlm server starting", "http", cfg.HTTPAddr(), "grpc", cfg.GRPCAddr(), "driver", cfg.Database.Driver)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	logger.Info("zlm server stopped")
	return nil
}
