package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"leveraged/internal/bootstrap"
	"leveraged/internal/config"
	"leveraged/internal/core"
	"leveraged/internal/infrastructure/health"
	inframetrics "leveraged/internal/infrastructure/metrics"
	"leveraged/internal/store"
	"leveraged/internal/trading/backtest"
	"leveraged/internal/trading/pricing"
	"leveraged/internal/trading/trader"
	"leveraged/internal/trading/wallet"
	"leveraged/pkg/concurrency"
	"leveraged/pkg/logging"
	"leveraged/pkg/telemetry"

	"github.com/google/uuid"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/leveraged_sim.yaml", "Path to configuration file")
	pricesFile := flag.String("prices", "", "CSV price series (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("leveraged_sim version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		logging.Error("Failed to start", "config", *configPath, "error", err)
		os.Exit(1)
	}
	if *pricesFile != "" {
		app.Cfg.Simulation.PricesFile = *pricesFile
	}
	if err := run(app); err != nil {
		app.Logger.Error("Simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(app *bootstrap.App) error {
	cfg := app.Cfg
	runID := uuid.NewString()
	logger := app.Logger.WithField("run_id", runID)
	logger.Info("Starting leveraged_sim",
		"version", version,
		"strategies", len(cfg.Strategies),
		"state_db", cfg.App.StateDB)

	tel, err := telemetry.Setup(cfg.App.Name, telemetry.Options{})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	stateStore, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "traders",
		MaxWorkers:  cfg.Concurrency.PoolSize,
		MaxCapacity: cfg.Concurrency.PoolBuffer,
	}, logger)
	defer pool.Stop()

	wallets := wallet.NewDB()
	registry := trader.NewRegistry(pool, logger)
	defer registry.Close()
	healthManager := health.NewHealthManager(logger)
	exchange := backtest.NewPaperExchange(logger)

	shared, err := loadSharedPrices(cfg.Simulation)
	if err != nil {
		return err
	}

	ctx := context.Background()
	series := make(map[string][]float64, len(cfg.Strategies))
	for i, sc := range cfg.Strategies {
		t, err := newTrader(cfg, sc, stateStore, wallets, logger)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", sc.Symbol, err)
		}
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("strategy %s: %w", sc.Symbol, err)
		}
		if err := registry.Add(t); err != nil {
			return err
		}
		healthManager.Register("trader:"+t.ID(), t.Check)
		exchange.Open(sc.Symbol, sc.Market, sc.Initial.Assets, sc.Initial.Currency, sc.Initial.Price)

		if shared != nil {
			series[t.ID()] = shared
		} else {
			series[t.ID()] = backtest.SyntheticPrices(sc.Initial.Price, cfg.Simulation.SyntheticSteps,
				cfg.Simulation.Volatility, cfg.Simulation.Seed+int64(i))
		}
	}

	runners := []bootstrap.Runner{
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			reports, err := backtest.NewRunner(exchange, logger).RunAll(ctx, registry, series)
			if err != nil {
				return err
			}
			for _, rep := range reports {
				logger.Info("Simulation report",
					"trader", rep.TraderID,
					"trades", rep.Trades,
					"stoplosses", rep.Stoplosses,
					"skipped", rep.Skipped,
					"norm_profit", rep.NormProfit,
					"fees", rep.Fees.String(),
					"equity_change", rep.FinalEquity-rep.StartEquity,
					"reserved", rep.Budget.Reserved)
			}
			logger.Info("Simulation finished", "healthy", healthManager.IsHealthy())
			return nil
		}),
	}

	if cfg.Telemetry.EnableMetrics {
		server := inframetrics.NewServer(cfg.Telemetry.MetricsPort, healthManager,
			func() interface{} { return registry.Status() }, logger)
		// keeps serving the final state until interrupted
		runners = append(runners, bootstrap.RunnerFunc(func(ctx context.Context) error {
			if err := server.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Stop(stopCtx)
		}))
	}

	return app.Run(runners...)
}

func openStore(cfg *config.Config) (core.IStateStore, func(), error) {
	if cfg.App.StateDB == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	s, err := store.NewSQLiteStore(cfg.App.StateDB)
	if err != nil {
		return nil, nil, fmt.Errorf("state store: %w", err)
	}
	return s, func() { _ = s.Close() }, nil
}

func loadSharedPrices(sim config.SimulationConfig) ([]float64, error) {
	if sim.PricesFile == "" {
		return nil, nil
	}
	f, err := os.Open(sim.PricesFile)
	if err != nil {
		return nil, fmt.Errorf("prices: %w", err)
	}
	defer f.Close()
	return backtest.LoadPrices(f)
}

func newTrader(cfg *config.Config, sc config.StrategyConfig, st core.IStateStore, wallets *wallet.DB, logger core.ILogger) (*trader.Trader, error) {
	calc, err := pricing.New(sc.Calculator)
	if err != nil {
		return nil, err
	}
	params := sc.Params
	return trader.New(trader.Options{
		Symbol:     sc.Symbol,
		Broker:     sc.Broker,
		Wallet:     sc.Wallet,
		Market:     sc.Market,
		Calculator: calc,
		Params:     &params,
		IdleRate:   cfg.Simulation.IdleRate,
	}, st, wallets, telemetry.GetGlobalMetrics(), logger)
}
