package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cambistlabs/cambist/internal/broker"
	"github.com/cambistlabs/cambist/internal/config"
	"github.com/cambistlabs/cambist/internal/marketdata"
	"github.com/cambistlabs/cambist/internal/observer"
	"github.com/cambistlabs/cambist/internal/simulator"
	"github.com/cambistlabs/cambist/internal/store"
	"github.com/cambistlabs/cambist/internal/strategy"
	"github.com/cambistlabs/cambist/pkg/logger"
	"github.com/cambistlabs/cambist/pkg/quant"
)

func main() {
	configPath := flag.String("config", "", "path to the application config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.LogLevel != "" && cfg.LogLevel != logLevel {
		zapLogger.Sync()
		if zapLogger, err = logger.NewLogger(cfg.LogLevel); err != nil {
			log.Fatalf("Failed to create logger: %v", err)
		}
	}
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("Backtest failed", zap.Error(err))
	}
}

func run(cfg *config.App, zapLogger *zap.Logger) error {
	scenario, err := config.LoadScenario(cfg.ScenarioFile)
	if err != nil {
		return err
	}

	series, err := marketdata.LoadCSVFile(cfg.DataFile, cfg.BaseNumeraire)
	if err != nil {
		return err
	}
	series.AddInverseSeries()
	if err := scenario.CheckNumeraires(series.Numeraires()); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				zapLogger.Error("Metrics listener failed", zap.Error(err))
			}
		}()
	}

	var filters []simulator.Filter
	if scenario.Costs != nil {
		filters = append(filters, &simulator.TransactionCostFilter{
			CostAccount:      scenario.Costs.Account,
			Cost:             scenario.Costs.Cost,
			CostVar:          scenario.Costs.Variable,
			ExcludedAccounts: scenario.Costs.Excluded,
		})
	}

	sim, err := simulator.New(series, simulator.Config{
		DefaultNumeraire: scenario.DefaultNumeraire,
		StartTime:        scenario.StartTime,
		Filters:          filters,
		Logger:           zapLogger,
	})
	if err != nil {
		return err
	}

	initialOrders, err := initialOrders(scenario)
	if err != nil {
		return err
	}
	b, err := broker.New(sim, initialOrders, broker.WithLogger(zapLogger))
	if err != nil {
		return err
	}

	obs := observer.New(b, observer.DefaultConfig())
	strat := strategy.New(b, obs, &strategy.ConstantMix{Weights: scenario.TargetWeights},
		strategy.WithMaxDeviation(scenario.RebalanceThreshold),
		strategy.WithLogger(zapLogger),
	)

	runID := uuid.New()
	startedAt := time.Now()
	zapLogger.Info("Starting backtest",
		zap.String("run", runID.String()),
		zap.String("default_numeraire", scenario.DefaultNumeraire),
		zap.Time("start_time", scenario.StartTime),
	)
	if err := strat.Run(scenario.StartTime, scenario.MaxIterations); err != nil {
		return err
	}
	report(b, obs, zapLogger)

	if err := persist(cfg, scenario, runID, b, obs, zapLogger); err != nil {
		return err
	}
	zapLogger.Info("Backtest finished",
		zap.String("run", runID.String()),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
	return nil
}

func initialOrders(scenario *config.Scenario) ([]broker.Order, error) {
	var orders []broker.Order
	for _, acc := range scenario.Accounts {
		o, err := broker.NewCreateAccountOrder(acc.Name, quant.Amount{Value: acc.Value, Num: acc.Numeraire})
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	for _, spec := range scenario.Interest {
		lower, upper := spec.Bounds()
		o, err := broker.NewInterestOrder(spec.Account, spec.Rate, lower, upper, time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func report(b *broker.Broker, obs *observer.Observer, zapLogger *zap.Logger) {
	if nav, ok := b.PortfolioValue(""); ok {
		zapLogger.Info("Final portfolio value",
			zap.Float64("nav", nav),
			zap.String("numeraire", b.DefaultNumeraire()),
		)
	}
	if returns := obs.TotalReturnHistory(); len(returns) > 0 {
		zapLogger.Info("Total return", zap.Float64("return", returns[len(returns)-1].Value))
	}
	for acc, amount := range b.Accounts() {
		zapLogger.Info("Account", zap.String("name", acc), zap.String("balance", amount.String()))
	}
}

func persist(cfg *config.App, scenario *config.Scenario, runID uuid.UUID, b *broker.Broker, obs *observer.Observer, zapLogger *zap.Logger) error {
	st, err := store.Open(store.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN, Logger: zapLogger})
	if err != nil {
		return err
	}
	defer st.Close()

	times := obs.Recorder().Times()
	run := &store.Run{ID: runID, DefaultNumeraire: scenario.DefaultNumeraire, Label: scenario.Label}
	if len(times) > 0 {
		run.StartTime = times[0]
		run.EndTime = times[len(times)-1]
	}
	if err := st.SaveRun(run); err != nil {
		return err
	}
	if err := st.SaveSeries(runID, obs.Recorder()); err != nil {
		return err
	}

	if cfg.CheckpointDir == "" {
		return nil
	}
	checkpoints, err := store.OpenCheckpoints(cfg.CheckpointDir)
	if err != nil {
		return err
	}
	defer checkpoints.Close()
	blob, err := b.StateSnapshot()
	if err != nil {
		return err
	}
	return checkpoints.Save(runID, b.TimeIndex(), blob)
}
