package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"perpmm/internal/alert"
	"perpmm/internal/audit"
	"perpmm/internal/config"
	"perpmm/internal/core"
	"perpmm/internal/engine"
	"perpmm/internal/exchange/mock"
	"perpmm/internal/exchange/standx"
	"perpmm/internal/hedge"
	"perpmm/internal/infrastructure/health"
	"perpmm/internal/infrastructure/metrics"
	"perpmm/internal/risk"
	"perpmm/internal/server"
	"perpmm/internal/state"
	"perpmm/pkg/logging"
	"perpmm/pkg/telemetry"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configFile); err == nil {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configFile, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, err := logging.NewLoggerFromString(cfg.App.LogLevel)
	if err != nil {
		logger, _ = logging.NewLoggerFromString("INFO")
		logger.Warn("Invalid log level, falling back to INFO", "level", cfg.App.LogLevel)
	}

	logger.Info("Starting quoting engine",
		"venue", cfg.App.Venue,
		"symbol", cfg.App.Symbol,
		"strategy_mode", cfg.Quote.StrategyMode)

	tel, err := telemetry.Setup("perpmm")
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Exchange adapters
	primary, hedgeAdapter, err := buildAdapters(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build exchange adapters", "error", err)
	}

	healthCtx, healthCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := primary.CheckHealth(healthCtx); err != nil {
		healthCancel()
		logger.Fatal("Primary venue health check failed", "venue", primary.Name(), "error", err)
	}
	if hedgeAdapter != nil {
		if err := hedgeAdapter.CheckHealth(healthCtx); err != nil {
			healthCancel()
			logger.Fatal("Hedge venue health check failed", "venue", hedgeAdapter.Name(), "error", err)
		}
	}
	healthCancel()

	st := state.NewMMState()
	guard := risk.NewLiquidationGuard(
		cfg.Liquidation.MarginRatioThreshold,
		cfg.Liquidation.LiqDistanceThresholdPct,
		logger)
	alerts := alert.NewManager(cfg.Alerts, logger)
	defer alerts.Stop()

	var tradeLog core.ITradeLog
	if cfg.Audit.Enabled {
		sqliteLog, err := audit.NewSQLiteTradeLog(cfg.Audit.DBPath, logger)
		if err != nil {
			logger.Fatal("Failed to open trade log", "path", cfg.Audit.DBPath, "error", err)
		}
		defer sqliteLog.Close()
		tradeLog = sqliteLog
	}

	exec := engine.NewExecutor(cfg, primary, st, guard, alerts, tradeLog, logger)

	var hedgeEngine *hedge.Engine
	if cfg.Hedge.Enabled && hedgeAdapter != nil {
		metaCtx, metaCancel := context.WithTimeout(ctx, 10*time.Second)
		meta, err := hedgeAdapter.GetSymbolMeta(metaCtx, cfg.App.Symbol)
		metaCancel()
		if err != nil {
			logger.Fatal("Failed to load hedge symbol metadata", "error", err)
		}
		hedgeEngine = hedge.NewEngine(
			hedgeAdapter, cfg.App.Symbol, meta,
			exec.Fills(), st, exec.Config, alerts, logger)
	}

	healthMgr := health.NewHealthManager(logger)
	healthMgr.Register("primary_venue", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return primary.CheckHealth(checkCtx)
	})
	healthMgr.Register("tick_loop", func() error {
		snap := exec.Snapshot()
		if snap.RunState == core.StateRunning && time.Since(snap.LastTickAt) > 10*time.Second {
			return fmt.Errorf("no tick for %s", time.Since(snap.LastTickAt))
		}
		return nil
	})

	var metricsSrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsSrv.Start()
	}

	ctrlSrv := server.NewServer(exec, cfg.Server.AllowedOrigins, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrlSrv.Start(gCtx, cfg.Server.Addr)
	})

	if err := exec.Start(gCtx); err != nil {
		logger.Fatal("Failed to start executor", "error", err)
	}
	if hedgeEngine != nil {
		if err := hedgeEngine.Start(gCtx); err != nil {
			logger.Fatal("Failed to start hedge engine", "error", err)
		}
	}

	g.Go(func() error {
		<-gCtx.Done()
		return nil
	})

	logger.Info("Engine running", "server_addr", cfg.Server.Addr, "healthy", healthMgr.IsHealthy())

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", "error", err)
	}

	logger.Info("Shutting down")

	// Executor first so quotes are pulled before anything else goes away.
	// Stop closes the fill channel, which drains the hedge engine consumer.
	exec.Stop()
	if hedgeEngine != nil {
		hedgeEngine.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
}

// buildAdapters constructs the primary adapter and, when hedging is enabled,
// the hedge adapter for the configured venue.
func buildAdapters(cfg *config.Config, logger core.ILogger) (core.IExchangeAdapter, core.IExchangeAdapter, error) {
	switch cfg.App.Venue {
	case "mock":
		primary := mock.NewAdapter(cfg.App.Symbol)
		var hedgeAdapter core.IExchangeAdapter
		if cfg.Hedge.Enabled {
			hedgeAdapter = mock.NewAdapter(cfg.App.Symbol)
		}
		logger.Info("Using mock venue")
		return primary, hedgeAdapter, nil
	case "standx":
		primary := standx.NewAdapter("primary", cfg.Accounts.Primary, logger)
		var hedgeAdapter core.IExchangeAdapter
		if cfg.Hedge.Enabled {
			hedgeAdapter = standx.NewAdapter("hedge", cfg.Accounts.Hedge, logger)
		}
		return primary, hedgeAdapter, nil
	default:
		return nil, nil, fmt.Errorf("unknown venue: %s", cfg.App.Venue)
	}
}
