package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/tujanalyst/tujanalyst/internal/analysis"
	"github.com/tujanalyst/tujanalyst/internal/api"
	"github.com/tujanalyst/tujanalyst/internal/auth"
	"github.com/tujanalyst/tujanalyst/internal/config"
	"github.com/tujanalyst/tujanalyst/internal/database"
	"github.com/tujanalyst/tujanalyst/internal/delivery"
	"github.com/tujanalyst/tujanalyst/internal/documents"
	"github.com/tujanalyst/tujanalyst/internal/gate"
	"github.com/tujanalyst/tujanalyst/internal/inference"
	"github.com/tujanalyst/tujanalyst/internal/ingestion"
	"github.com/tujanalyst/tujanalyst/internal/llm"
	"github.com/tujanalyst/tujanalyst/internal/logging"
	"github.com/tujanalyst/tujanalyst/internal/metrics"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/pipeline"
	"github.com/tujanalyst/tujanalyst/internal/resilience"
	"github.com/tujanalyst/tujanalyst/internal/retry"
	"github.com/tujanalyst/tujanalyst/internal/scheduler"
	"github.com/tujanalyst/tujanalyst/internal/server"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

func main() {
	if len(os.Args) == 3 && os.Args[1] == "hash-password" {
		hash, err := auth.HashPassword(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash password:", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// A missing .env is normal in containers.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting tujanalyst")
	ctx := context.Background()

	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, db, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		logger.Warn("watchlist not loaded, every feed trigger will be filtered out", "path", cfg.WatchlistPath, "error", err)
		watchlist = models.Watchlist{}
	}

	breaker := func(name string) (*resilience.Breaker, error) {
		return resilience.NewBreaker(name, cfg.Breakers.FailureThreshold, cfg.Breakers.Recovery,
			resilience.WithOnOpen(func(n string) {
				logger.Warn("circuit breaker opened", "breaker", n, "recovery", cfg.Breakers.Recovery)
				collector.BreakerOpened(n)
			}))
	}

	httpClient := &http.Client{Timeout: cfg.Feeds.FetchTimeout}
	stages := pipeline.Stages{
		Documents: documents.NewIngestor(store, httpClient, logger, documents.WithUserAgent(cfg.Feeds.UserAgent)),
		Filter:    gate.NewWatchlistFilter(watchlist),
	}

	if cfg.LLM.Enabled() {
		llmBreaker, err := breaker("llm")
		if err != nil {
			return err
		}
		client := llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL,
			llm.WithRetry(retry.Options{Attempts: cfg.LLM.RetryAttempts, BaseDelay: cfg.LLM.RetryBaseDelay}),
			llm.WithTimeout(cfg.LLM.RequestTimeout),
			llm.WithBreaker(llmBreaker),
			llm.WithRecorder(inference.NewLogger(logger, collector)),
		)

		var analyzerOpts []analysis.AnalyzerOption
		searcher, err := analysis.NewWebSearcher(cfg.WebSearch, nil)
		if err != nil {
			return fmt.Errorf("init web search: %w", err)
		}
		if searcher != nil {
			searchBreaker, err := breaker("web_search")
			if err != nil {
				return err
			}
			analyzerOpts = append(analyzerOpts, analysis.WithWebSearch(searcher, searchBreaker, cfg.WebSearch.MaxResults))
		}
		market, err := analysis.NewMarketDataProvider(cfg.Market, nil)
		if err != nil {
			return fmt.Errorf("init market data: %w", err)
		}
		if market != nil {
			marketBreaker, err := breaker("market_data")
			if err != nil {
				return err
			}
			analyzerOpts = append(analyzerOpts, analysis.WithMarketData(market, marketBreaker))
		}

		stages.Classifier = gate.NewClassifier(client, cfg.LLM.GateModel, logger)
		stages.Analyzer = analysis.NewAnalyzer(client, cfg.LLM.AnalysisModel, store, store, logger, analyzerOpts...)
		stages.Assessor = analysis.NewAssessor(client, cfg.LLM.DecisionModel, store, logger)
		stages.Generator = analysis.NewReportGenerator(client, cfg.LLM.ReportModel, store, logger)

		channels, err := delivery.FromConfig(cfg.Delivery, nil)
		if err != nil {
			return fmt.Errorf("init delivery: %w", err)
		}
		stages.Deliverer = delivery.NewDeliverer(store, logger, collector, channels...)
		logger.Info("analysis stages configured",
			"web_search", cfg.WebSearch.Provider,
			"market_data", cfg.Market.Provider,
			"delivery_channels", len(channels),
		)
	} else {
		logger.Warn("no LLM API key configured, triggers stop after the watchlist gate")
		stages.Classifier = gate.FilterOnly{}
	}

	orchestrator, err := pipeline.New(store, stages, logger,
		pipeline.WithConcurrency(cfg.Schedule.Concurrency),
		pipeline.WithMetrics(collector),
	)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	var poller scheduler.Poller
	if sources := feedSources(cfg.Feeds); len(sources) > 0 {
		fetcher := ingestion.NewHTTPFetcher(httpClient, cfg.Feeds.UserAgent, retry.DefaultOptions())
		poller = ingestion.NewPoller(store, sources, fetcher, ingestion.KeyCacheConfig{
			RefreshTTL: cfg.Dedup.RefreshTTL,
			Lookback:   cfg.Dedup.Lookback,
			SeedLimit:  cfg.Dedup.SeedLimit,
		}, logger,
			ingestion.WithSymbolResolver(watchlist),
			ingestion.WithMetrics(collector),
		)
	} else {
		logger.Warn("no feed URLs configured, polling disabled")
	}

	sched, err := scheduler.New(cfg.Schedule, poller, orchestrator, logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	var health api.HealthChecker
	if db != nil {
		health = func(ctx context.Context) error { return database.HealthCheck(ctx, db) }
	}
	handler := api.NewHandler(store, store, orchestrator, health, logger)
	authConfig := auth.FromAppConfig(cfg.Auth)
	if !authConfig.Enabled() {
		logger.Warn("admin credentials not configured, trigger API is disabled")
	}
	srv := server.New(cfg.Server, logger, api.NewRouter(handler, authConfig, collector))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sched.Start(runCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("tujanalyst started", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	case sig := <-waitForSignal():
		logger.Info("received signal", "signal", sig.String())
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}
	if err := handler.Wait(shutdownCtx); err != nil {
		logger.Warn("human triggers still processing at shutdown", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

type appStore interface {
	storage.Store
	storage.RecentTriggerLister
}

// openStore connects to Postgres when a URL is configured and falls back to
// the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (appStore, *sql.DB, error) {
	if !cfg.Configured() {
		logger.Warn("no database configured, using in-memory store")
		return storage.NewMemoryStore(), nil, nil
	}

	dbConfig, err := database.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connecting to database", "dsn", database.RedactDSN(dbConfig.URL))
	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database connected", "stats", database.Stats(db))
	return database.NewPostgresStore(db), db, nil
}

func feedSources(cfg config.FeedsConfig) []ingestion.FeedSource {
	var sources []ingestion.FeedSource
	if cfg.NSEURL != "" {
		sources = append(sources, ingestion.FeedSource{Source: models.TriggerSourceNSE, URL: cfg.NSEURL})
	}
	if cfg.BSEURL != "" {
		sources = append(sources, ingestion.FeedSource{Source: models.TriggerSourceBSE, URL: cfg.BSEURL})
	}
	return sources
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	return c
}
