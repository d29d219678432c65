// Package main is the entry point for the papertrade risk engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sdayal/papertrade/internal/alerting"
	"github.com/sdayal/papertrade/internal/config"
	"github.com/sdayal/papertrade/internal/costs"
	"github.com/sdayal/papertrade/internal/engine"
	"github.com/sdayal/papertrade/internal/feed"
	"github.com/sdayal/papertrade/internal/ledger"
	"github.com/sdayal/papertrade/internal/metrics"
	"github.com/sdayal/papertrade/internal/persistence"
	"github.com/sdayal/papertrade/internal/risk"
	"github.com/sdayal/papertrade/internal/sizing"
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "backtest":
		cmdBacktest(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Papertrade - Backtest & Paper Trading Risk Engine

Usage:
  papertrade <command> [options]

Commands:
  run        Start a live paper trading session
  backtest   Replay historical bars against a signal file
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  papertrade backtest --config config.yaml --data data/ --signals signals.csv
  papertrade run --config config.yaml --data data/ --signals signals.csv
  papertrade validate --config config.yaml

Use "papertrade <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("papertrade version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Initial capital:  %.2f\n", cfg.Account.InitialCapital)
	fmt.Printf("  Risk budget:      %.1f%% of peak\n", cfg.Risk.MaxTotalRiskPct*100)
	fmt.Printf("  Halt drawdown:    %.1f%%\n", cfg.Risk.HaltPct*100)
	fmt.Printf("  Max Kelly:        %.0f%%\n", cfg.Sizing.MaxKellyFraction*100)
	fmt.Printf("  Poll interval:    %ds\n", cfg.Live.PollIntervalSec)
}

func cmdBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataDir := fs.String("data", "", "Directory of per-symbol bar CSVs (required)")
	signalsPath := fs.String("signals", "", "Path to signal CSV (required)")
	outPath := fs.String("out", "", "Write the trade log CSV here")
	curvePath := fs.String("curve", "", "Write the equity curve CSV here")
	benchPath := fs.String("benchmark", "", "Benchmark bar CSV for alpha")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	if *dataDir == "" || *signalsPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --data and --signals are required")
		fs.Usage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	history, err := loadHistory(*dataDir, logger)
	if err != nil {
		slog.Error("failed to load bar data", "err", err)
		os.Exit(1)
	}

	signals, err := feed.LoadSignals(*signalsPath, logger)
	if err != nil {
		slog.Error("failed to load signals", "err", err)
		os.Exit(1)
	}

	eng := buildEngine(cfg, nil, nil, logger)
	replayer := engine.NewReplayer(eng, history, feed.NewSignalBook(signals), logger)

	if *benchPath != "" {
		closes, err := loadBenchmark(*benchPath, logger)
		if err != nil {
			slog.Error("failed to load benchmark", "err", err)
			os.Exit(1)
		}
		replayer.SetBenchmark(closes)
	}

	slog.Info("starting replay",
		"data", *dataDir,
		"signals", len(signals),
		"bars", history.BarCount(),
		"capital", cfg.Account.InitialCapital,
	)

	result, err := replayer.Run(context.Background())
	if err != nil {
		slog.Error("replay failed", "err", err)
		os.Exit(1)
	}

	printReplayResults(result)
	printPerformance(result.Performance)

	if *outPath != "" {
		if err := ledger.ExportTradeLog(*outPath, result.Trades); err != nil {
			slog.Error("failed to write trade log", "err", err)
			os.Exit(1)
		}
		slog.Info("trade log written", "path", *outPath)
	}
	if *curvePath != "" {
		if err := writeCurve(*curvePath, result.EquityCurve); err != nil {
			slog.Error("failed to write equity curve", "err", err)
			os.Exit(1)
		}
		slog.Info("equity curve written", "path", *curvePath)
	}
}

func printReplayResults(result *engine.Result) {
	pct := decimal.NewFromInt(100)

	fmt.Println("\n=== REPLAY RESULTS ===")
	fmt.Printf("Start Capital:    %.2f\n", result.StartCapital.InexactFloat64())
	fmt.Printf("End Capital:      %.2f\n", result.EndCapital.InexactFloat64())
	fmt.Printf("Total Return:     %.2f%%\n", result.Performance.TotalReturn.Mul(pct).InexactFloat64())
	fmt.Printf("Max Drawdown:     %.2f%%\n", result.Performance.MaxDrawdown.Mul(pct).InexactFloat64())
	fmt.Println()
	fmt.Printf("Total Trades:     %d\n", result.Performance.TotalTrades)
	fmt.Printf("Winning Trades:   %d\n", result.Performance.WinningTrades)
	fmt.Printf("Losing Trades:    %d\n", result.Performance.LosingTrades)
	fmt.Printf("Win Rate:         %.2f%%\n", result.Performance.WinRate.Mul(pct).InexactFloat64())
	fmt.Printf("Profit Factor:    %.2f\n", result.Performance.ProfitFactor.InexactFloat64())
	fmt.Printf("Skipped Symbols:  %d\n", len(result.Skipped))
}

func printPerformance(p engine.Performance) {
	fmt.Println("\n=== PERFORMANCE METRICS ===")
	if !p.HasData {
		fmt.Println("Not enough history for ratio metrics.")
		return
	}
	fmt.Printf("Annualized:       %.2f%%\n", p.AnnualizedReturn.Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Printf("Sharpe Ratio:     %.2f\n", p.SharpeRatio.InexactFloat64())
	fmt.Printf("Sortino Ratio:    %.2f\n", p.SortinoRatio.InexactFloat64())
	fmt.Printf("Calmar Ratio:     %.2f\n", p.CalmarRatio.InexactFloat64())
	fmt.Printf("Expectancy:       %.2f\n", p.Expectancy.InexactFloat64())
	fmt.Printf("Avg Win:          %.2f\n", p.AverageWin.InexactFloat64())
	fmt.Printf("Avg Loss:         %.2f\n", p.AverageLoss.InexactFloat64())
	fmt.Printf("Alpha:            %.2f%%\n", p.Alpha.Mul(decimal.NewFromInt(100)).InexactFloat64())
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dataDir := fs.String("data", "", "Directory of per-symbol quote CSVs (required)")
	signalsPath := fs.String("signals", "", "Path to signal CSV for today")
	fs.Parse(args)

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --data is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.SetBuildInfo(Version, GitCommit)

	slog.Info("papertrade starting",
		"version", Version,
		"capital", cfg.Account.InitialCapital,
		"poll_interval", cfg.PollInterval(),
	)

	var repo persistence.Repository
	if cfg.Persistence.Enabled {
		sqliteRepo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open database", "err", err)
			os.Exit(1)
		}
		defer sqliteRepo.Close()
		if err := sqliteRepo.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "err", err)
			os.Exit(1)
		}
		repo = sqliteRepo
	}

	recorder := metrics.NewRecorder()
	alerter := buildAlerter(cfg, logger)

	eng := buildEngine(cfg, recorder, alerter, logger)
	if repo != nil {
		if err := restoreEngine(ctx, eng, repo, logger); err != nil {
			slog.Error("failed to restore persisted state", "err", err)
			os.Exit(1)
		}
		eng.SetRepository(repo)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		serverCfg := metrics.DefaultServerConfig()
		serverCfg.Port = cfg.Metrics.Port
		metricsServer = metrics.NewServer(serverCfg, logger)
		metricsServer.RegisterHealthCheck("risk", func() metrics.Check {
			if eng.Risk().Halted() {
				return metrics.Check{Status: "degraded", Message: "trading halted"}
			}
			return metrics.Check{Status: "ok"}
		})
		metricsServer.Start()
	}

	quoter := feed.NewCSVQuoter(*dataDir, logger)
	polling := feed.NewPollingSource(
		quoter,
		float64(cfg.Live.FetchesPerSecond),
		cfg.FetchTimeout(),
		logger,
	)

	signalCh := make(chan types.Signal, 256)
	if *signalsPath != "" {
		signals, err := feed.LoadSignals(*signalsPath, logger)
		if err != nil {
			slog.Error("failed to load signals", "err", err)
			os.Exit(1)
		}
		queued := 0
		for _, sig := range signals {
			if sameDay(sig.Timestamp, time.Now()) {
				signalCh <- sig
				queued++
			}
		}
		slog.Info("signals queued", "total", len(signals), "today", queued)
	}

	session := engine.NewLiveSession(
		engine.LiveConfig{
			PollInterval:           cfg.PollInterval(),
			MaxConsecutiveTimeouts: cfg.Live.MaxConsecutiveTimeouts,
		},
		eng,
		polling,
		signalCh,
		recorder,
		alerter,
		logger,
	)

	if err := session.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		os.Exit(1)
	}

	// SIGUSR1 triggers the emergency stop, SIGUSR2 attempts a manual
	// resume after a halt. Both are operator actions, never automatic.
	opSignals := make(chan os.Signal, 1)
	signal.Notify(opSignals, syscall.SIGUSR1, syscall.SIGUSR2)

loop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received")
			break loop
		case sig := <-opSignals:
			switch sig {
			case syscall.SIGUSR1:
				slog.Warn("emergency stop requested")
				closed := session.EmergencyStop(context.Background())
				slog.Info("emergency stop complete", "positions_closed", len(closed))
			case syscall.SIGUSR2:
				if err := eng.Risk().Resume(); err != nil {
					slog.Warn("resume refused", "err", err)
				} else {
					slog.Info("trading resumed")
				}
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := session.Stop(shutdownCtx); err != nil {
		slog.Error("session stop failed", "err", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "err", err)
		}
	}

	slog.Info("papertrade shutdown complete")
}

// buildEngine assembles the sizing, risk, cost and ledger components from
// config. Recorder and alerter may be nil.
func buildEngine(cfg *config.Config, recorder *metrics.Recorder, alerter alerting.Alerter, logger *slog.Logger) *engine.Engine {
	capital := cfg.InitialCapital()

	return engine.New(
		engine.Config{
			InitialCapital:   capital,
			StatsWindow:      cfg.Sizing.StatsWindow,
			ForceCloseOnHalt: cfg.Risk.ForceCloseOnHalt,
		},
		sizing.NewSizer(cfg.ToSizingConfig()),
		risk.NewManager(cfg.ToRiskConfig(), capital, logger),
		ledger.New(capital),
		costs.NewModel(cfg.ToRateTable(), cfg.ToSlippageTable()),
		recorder,
		alerter,
		logger,
	)
}

// restoreEngine seeds the ledger and risk manager from the persisted
// state so a latched halt and the drawdown baseline survive a restart.
func restoreEngine(ctx context.Context, eng *engine.Engine, repo persistence.Repository, logger *slog.Logger) error {
	state, err := repo.GetState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		return nil
	}

	positions, err := repo.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	eng.Ledger().SetCash(state.Cash)
	eng.Risk().RestorePeak(state.PeakCapital)
	for _, pos := range positions {
		eng.Ledger().Restore(pos)
		eng.Risk().AddOpenRisk(pos.ID, pos.RiskAmount)
	}
	if state.Halted {
		eng.Risk().ForceHalt("persisted halt restored")
	}

	logger.Info("state restored",
		"cash", state.Cash,
		"peak", state.PeakCapital,
		"open_positions", len(positions),
		"halted", state.Halted,
		"last_updated", state.LastUpdated,
	)
	return nil
}

// buildAlerter constructs the configured alert channels.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled || len(cfg.Alerting.Channels) == 0 {
		return nil
	}

	var alerters []alerting.Alerter
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			alerters = append(alerters, alerting.NewConsoleAlerter(logger))
		case "telegram":
			alerters = append(alerters, alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		}
	}

	if len(alerters) == 1 {
		return alerters[0]
	}
	return alerting.NewMultiAlerter(logger, alerters...)
}

// loadHistory reads every *.csv in dir as one symbol's daily bars; the
// symbol is the uppercased file name.
func loadHistory(dir string, logger *slog.Logger) (*feed.History, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var bars []types.Bar
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSuffix(name, ".csv"))
		symbolBars, err := feed.LoadBars(filepath.Join(dir, name), symbol, logger)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		bars = append(bars, symbolBars...)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no bar files in %s: %w", dir, types.ErrNoData)
	}
	return feed.NewHistory(bars), nil
}

// loadBenchmark reads a benchmark bar CSV and returns its closes in date
// order, for alpha.
func loadBenchmark(path string, logger *slog.Logger) ([]decimal.Decimal, error) {
	symbol := strings.ToUpper(strings.TrimSuffix(filepath.Base(path), ".csv"))
	bars, err := feed.LoadBars(path, symbol, logger)
	if err != nil {
		return nil, err
	}

	hist := feed.NewHistory(bars)
	var closes []decimal.Decimal
	for _, day := range hist.Days() {
		if bar, ok := hist.Bar(symbol, day); ok {
			closes = append(closes, bar.Close)
		}
	}
	return closes, nil
}

func writeCurve(path string, curve []types.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create equity curve file: %w", err)
	}
	defer f.Close()
	return ledger.WriteEquityCurve(f, curve)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
