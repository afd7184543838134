// Command scrape performs a single pipeline run and exits, for cron jobs and
// workflow-dispatched executions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/balrng/kogb/internal/blobstore"
	"github.com/balrng/kogb/internal/config"
	"github.com/balrng/kogb/internal/daylog"
	"github.com/balrng/kogb/internal/fetcher"
	"github.com/balrng/kogb/internal/pipeline"
)

func main() {
	cfgPath := flag.String("config", "", "Path to service configuration file (optional)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve timezone: %v\n", err)
		os.Exit(1)
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
		fmt.Fprintf(os.Stderr, "failed to initialise blob store: %v\n", err)
		os.Exit(1)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	runner := buildRunner(*cfg, store, loc, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := runner.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrape run failed: %v\n", err)
		os.Exit(1)
	}
	_ = json.NewEncoder(os.Stdout).Encode(result)
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
