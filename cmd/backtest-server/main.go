package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"backtester/internal/api"
	"backtester/internal/backtest"
	"backtester/internal/config"
	"backtester/internal/httpapi"
	"backtester/internal/metrics"
	"backtester/internal/quotes"
	"backtester/internal/scheduler"
	"backtester/internal/store"
	"backtester/internal/util"
)

func main() {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLoggerTo(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening scenario store: %v", err)
	}
	defer db.Close()

	src, _, err := quotes.Stack(cfg, store.NewParquetStore(cfg.Storage.DataDir), m)
	if err != nil {
		log.Fatalf("configuring quotes: %v", err)
	}
	runner := backtest.NewRunner(src, cfg.Backtest.WarmupPaddingDays, m, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Refresh.Enabled {
		sched := scheduler.New(ctx, runner, db, m, logger)
		if err := sched.Register(cfg.Refresh.Schedule); err != nil {
			log.Fatalf("scheduling refresh: %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	httpSrv := httpapi.NewServer(runner, src, db, metrics.Handler(reg), logger)
	srv := api.NewServer(cfg.Server.Addr(), cfg.Server.GRPCAddr(), httpSrv.Handler(),
		api.NewBacktestService(runner, db), logger)

	logger.Info("backtest-server starting",
		"http", cfg.Server.Addr(),
		"grpc", cfg.Server.GRPCAddr(),
		"provider", src.Name(),
		"cache", cfg.Quotes.Cache,
		"refresh", cfg.Refresh.Enabled,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
