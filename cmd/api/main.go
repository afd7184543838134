package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/balrng/kogb/internal/api"
	"github.com/balrng/kogb/internal/blobstore"
	"github.com/balrng/kogb/internal/config"
	"github.com/balrng/kogb/internal/daylog"
	"github.com/balrng/kogb/internal/fetcher"
	"github.com/balrng/kogb/internal/history"
	"github.com/balrng/kogb/internal/pipeline"
)

func main() {
	cfgPath := flag.String("config", "", "Path to service configuration file (optional)")
	addr := flag.String("addr", "", "HTTP listen address override")
	flag.Parse()

	// Local development convenience; missing .env files are fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialise logger: %v", err)
	}
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("failed to resolve timezone: %v", err)
	}

	store, err := blobstore.New(blobstore.Options{
		Backend:       cfg.Storage.Backend,
		Root:          cfg.Storage.Root,
		RedisAddr:     cfg.Storage.Redis.Addr,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
		PostgresDSN:   cfg.Storage.Postgres.DSN,
	})
	if err != nil {
		log.Fatalf("failed to initialise blob store: %v", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	runner := buildRunner(*cfg, store, loc, logger)
	hist := history.New(daylog.New(store), loc, logger)

	server := api.NewServer(api.Options{
		Blobs:        store,
		Runner:       runner,
		History:      hist,
		PricesTTL:    cfg.Cache.PricesTTL.Duration,
		HistoryTTL:   cfg.Cache.HistoryTTL.Duration,
		TriggerRate:  cfg.Scrape.TriggerRate.Duration,
		TriggerBurst: cfg.Scrape.TriggerBurst,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval := cfg.Scrape.Interval.Duration; interval > 0 {
		go runScheduler(ctx, runner, interval, logger)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}()

	logger.Info("api server listening", "addr", cfg.Server.Addr, "storage", cfg.Storage.Backend)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	log.Println("API server stopped")
}

func buildRunner(cfg config.Config, store blobstore.Store, loc *time.Location, logger *slog.Logger) *pipeline.Runner {
	httpStrategy, err := fetcher.NewHTTPStrategy(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.Timeout.Duration,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
	})
	if err != nil {
		log.Fatalf("failed to initialise http fetcher: %v", err)
	}

	strategies := []fetcher.Strategy{httpStrategy}
	if cfg.Render.Enabled {
		strategies = append(strategies, fetcher.NewChromedpStrategy(fetcher.RenderOptions{
			Timeout:            cfg.Render.Timeout.Duration,
			WaitForSelector:    cfg.Render.WaitForSelector,
			UserAgent:          cfg.Fetch.UserAgent,
			MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
			DisableHeadless:    cfg.Render.DisableHeadless,
			ConcurrentSessions: cfg.Render.ConcurrentSessions,
		}, logger))
	}

	market := config.NewMarketSource(store,
		blobstore.ContainerConfig, blobstore.KeyMarketConfig,
		cfg.Scrape.LocalConfigPath, logger)

	return pipeline.NewRunner(pipeline.RunnerConfig{
		Fetcher:   fetcher.NewClient(cfg.Fetch.TableMarker, logger, strategies...),
		Market:    market,
		Days:      daylog.New(store),
		Publisher: pipeline.NewPublisher(store, logger),
		Location:  loc,
		Logger:    logger,
	})
}

func runScheduler(ctx context.Context, runner *pipeline.Runner, interval time.Duration, logger *slog.Logger) {
	logger.Info("scrape scheduler starting", "interval", interval.String())
	runCycle(ctx, runner, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("scrape scheduler stopped")
			return
		case <-ticker.C:
			runCycle(ctx, runner, logger)
		}
	}
}

func runCycle(ctx context.Context, runner *pipeline.Runner, logger *slog.Logger) {
	result, err := runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		logger.Warn("scheduled scrape skipped, previous run still active")
	case err != nil:
		logger.Error("scheduled scrape failed", "error", err)
	default:
		logger.Info("scrape cycle complete", "scraped_at", result.ScrapedAt, "vendors", result.VendorCount)
	}
}
