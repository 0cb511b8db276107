package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/ismaiel54/lob-replay-sim/internal/chaos"
	"github.com/ismaiel54/lob-replay-sim/internal/config"
	"github.com/ismaiel54/lob-replay-sim/internal/logging"
	"github.com/ismaiel54/lob-replay-sim/internal/msg"
	"github.com/ismaiel54/lob-replay-sim/internal/observability"
	"github.com/ismaiel54/lob-replay-sim/internal/replay"
	"github.com/ismaiel54/lob-replay-sim/internal/store"
	"github.com/ismaiel54/lob-replay-sim/internal/strategy"
	"github.com/ismaiel54/lob-replay-sim/internal/tape"
	"github.com/ismaiel54/lob-replay-sim/internal/vol"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	var (
		tapePath = flag.String("tape", "", "LOBSTER message file (overrides TAPE_PATH)")
		runID    = flag.String("run-id", "", "Run identifier (default: random UUID)")
		serve    = flag.Bool("serve", false, "Keep serving health and monitor endpoints after the run")
	)
	flag.Parse()

	_ = godotenv.Load() // best-effort: .env is optional

	cfg, err := config.LoadConfig("replay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *tapePath != "" {
		cfg.TapePath = *tapePath
	}
	if *runID == "" {
		*runID = uuid.New().String()
	}

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting replay",
		zap.String("run_id", *runID),
		zap.String("tape_path", cfg.TapePath),
		zap.String("strategy", cfg.Strategy),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("data_dir", cfg.DataDir),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
	)

	if cfg.TapePath == "" {
		logger.Fatal("no tape given; set TAPE_PATH or -tape")
	}
	events, err := tape.Load(cfg.TapePath)
	if err != nil {
		logger.Fatal("failed to load tape", zap.Error(err))
	}
	events, counts := chaos.New(chaos.LoadConfig(), logger).Perturb(events)
	logger.Info("tape loaded",
		zap.Int("events", len(events)),
		zap.Int("chaos_dropped", counts.Dropped),
		zap.Int("chaos_inflated", counts.Inflated),
		zap.Int("chaos_duplicated", counts.Duplicated),
	)

	if cfg.EstimateSigma && cfg.Strategy == config.StrategyAvellaneda {
		ts, mids := vol.MidSeries(events)
		sigma, err := vol.TickSigma(ts, mids, vol.DefaultAlpha)
		if err != nil {
			logger.Warn("failed to estimate sigma, keeping configured value",
				zap.Float64("sigma", cfg.AS.Sigma),
				zap.Error(err),
			)
		} else {
			logger.Info("estimated sigma from tape", zap.Float64("sigma", sigma))
			cfg.AS.Sigma = sigma
		}
	}

	strat, err := newStrategy(cfg)
	if err != nil {
		logger.Fatal("failed to build strategy", zap.Error(err))
	}

	// Health and monitor servers
	healthChecker := observability.NewHealthChecker(logger)
	monitor := observability.NewMonitor(logger, 100)
	monitor.Register(healthChecker)

	monitorCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(monitorCtx)

	grpcServer := grpc.NewServer()
	healthChecker.RegisterGRPC(grpcServer)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Replay
	engine := replay.New(book.New(logger), strat, replay.Config{
		QuoteSize:      book.Qty(cfg.QuoteSize),
		SessionSeconds: cfg.SessionSeconds,
	}, logger)
	engine.OnStep(monitor.Observe)

	replayErrCh := make(chan error, 1)
	go func() {
		start := time.Now()
		err := engine.Run(events)
		logger.Info("replay finished",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		replayErrCh <- err
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal before replay completed", zap.String("signal", sig.String()))
		shutdown(logger, healthChecker, grpcServer)
		os.Exit(1)
	case err := <-grpcErrCh:
		logger.Fatal("gRPC server error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Fatal("HTTP server error", zap.Error(err))
	case err := <-replayErrCh:
		if err != nil {
			logger.Fatal("replay failed", zap.Error(err))
		}
	}

	summary := engine.Summary()
	monitor.Finish(summary)
	healthChecker.SetReplayDone()

	midVol, err := vol.EWMASigma(vol.Positive(engine.Midprices()), vol.DefaultAlpha, vol.SecondsPerYear)
	if err != nil {
		logger.Debug("midprice volatility unavailable", zap.Error(err))
	}

	logger.Info("replay summary", summaryFields(*runID, summary, midVol, engine.Book().Stats())...)

	// Persist and publish
	dbPath := filepath.Join(cfg.DataDir, "runs.db")
	runStore, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal("failed to open run store", zap.Error(err))
	}
	defer runStore.Close()

	ctx := context.Background()
	sigma := 0.0
	if cfg.Strategy == config.StrategyAvellaneda {
		sigma = cfg.AS.Sigma
	}
	res, err := runStore.SaveRun(ctx, store.NewRun(*runID, cfg.Strategy, cfg.TapePath, cfg.PriceScale, sigma, engine))
	if err != nil {
		logger.Fatal("failed to save run", zap.Error(err))
	}
	logger.Info("run saved",
		zap.String("path", dbPath),
		zap.Bool("duplicate", res.Duplicate),
		zap.Int("outbox_events", res.Outbox),
	)

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer, err := msg.NewProducer(msg.NewConfig(brokers), logger)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		defer producer.Close()

		publishCtx, cancelPublish := context.WithTimeout(ctx, 30*time.Second)
		if err := producer.Ping(publishCtx); err != nil {
			logger.Warn("kafka not reachable yet, publishing anyway", zap.Error(err))
		} else {
			healthChecker.SetKafkaReady(true)
		}
		n, err := store.NewPublisher(runStore, producer, logger).Drain(publishCtx)
		cancelPublish()
		if err != nil {
			logger.Error("failed to drain outbox", zap.Error(err))
		}
		logger.Info("outbox drained", zap.Int("published", n))
	}

	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Run ID: %s\n", *runID)
	fmt.Printf("Events: %d (applied %d)\n", summary.Events, summary.EventsApplied)
	fmt.Printf("Quotes: %d\n", summary.Quotes)
	fmt.Printf("Fills: %d (bought %d, sold %d)\n", summary.Fills, summary.FilledBuy, summary.FilledSell)
	fmt.Printf("Inventory: %d\n", summary.Inventory)
	fmt.Printf("Cash: %s\n", tape.AmountToDollars(summary.Cash, cfg.PriceScale).StringFixed(2))
	fmt.Printf("Mark to market: %s\n", tape.AmountToDollars(summary.MarkToMarket, cfg.PriceScale).StringFixed(2))
	fmt.Printf("\n")

	if *serve {
		logger.Info("serving monitor until interrupted")
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		case err := <-grpcErrCh:
			logger.Error("gRPC server error", zap.Error(err))
		case err := <-httpErrCh:
			logger.Error("HTTP server error", zap.Error(err))
		}
	}

	cancel()
	shutdown(logger, healthChecker, grpcServer)
	logger.Info("replay stopped")
}

// summaryFields flattens the end-of-run figures and the book diagnostics into log fields.
func summaryFields(runID string, summary replay.Summary, midVol float64, stats book.Stats) []zap.Field {
	return []zap.Field{
		zap.String("run_id", runID),
		zap.Int("events", summary.Events),
		zap.Int("events_applied", summary.EventsApplied),
		zap.Int("fills", summary.Fills),
		zap.Int64("inventory", summary.Inventory),
		zap.Float64("cash", summary.Cash),
		zap.Float64("mark_to_market", summary.MarkToMarket),
		zap.Float64("mid_vol_annualized", midVol),
		zap.Int64("book_processed", stats.Processed),
		zap.Int64("book_rejected", stats.Rejected),
		zap.Int64("book_unknown_orders", stats.UnknownOrders),
		zap.Int64("book_underflows", stats.Underflows),
	}
}

func newStrategy(cfg *config.Config) (strategy.Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyStatic:
		return strategy.NewStatic(cfg.StaticBid, cfg.StaticAsk), nil
	case config.StrategyAvellaneda:
		return strategy.NewAvellanedaStoikov(cfg.AS)
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

func shutdown(logger *zap.Logger, healthChecker *observability.HealthChecker, grpcServer *grpc.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}
	grpcServer.GracefulStop()
}
