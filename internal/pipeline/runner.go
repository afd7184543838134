package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/balrng/kogb/internal/config"
	"github.com/balrng/kogb/internal/daylog"
	"github.com/balrng/kogb/internal/scrape"
	"github.com/balrng/kogb/pkg/types"
)

// ErrRunInProgress is returned when a trigger arrives while a run is active.
var ErrRunInProgress = errors.New("scrape run already in progress")

// Fetcher retrieves raw page markup.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// MarketLoader provides the market configuration document for a run.
type MarketLoader interface {
	Load(ctx context.Context) (*config.Market, error)
}

// Result reports the outcome of one pipeline run.
type Result struct {
	OK          bool   `json:"ok"`
	ScrapedAt   string `json:"scrapedAt"`
	VendorCount int    `json:"vendorCount"`
}

// RunnerConfig wires a Runner's collaborators.
type RunnerConfig struct {
	Fetcher   Fetcher
	Market    MarketLoader
	Days      *daylog.Store
	Publisher *Publisher
	Location  *time.Location
	Logger    *slog.Logger
	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

// Runner executes the scrape-normalize-rotate-trend pipeline. At most one run
// is in flight per process; concurrent triggers are skipped, never queued.
type Runner struct {
	fetcher   Fetcher
	market    MarketLoader
	days      *daylog.Store
	publisher *Publisher
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
}

// NewRunner builds a Runner from its configuration.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		fetcher:   cfg.Fetcher,
		market:    cfg.Market,
		days:      cfg.Days,
		publisher: cfg.Publisher,
		loc:       loc,
		logger:    logger,
		now:       now,
	}
}

// Run performs one pipeline cycle: fetch, parse, build, conditionally append
// to the day log, annotate trends, and refresh the caches. The caches are
// refreshed even when the rotation decision skips the append.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("scrape trigger skipped, run already in progress")
		return Result{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	market, err := r.market.Load(ctx)
	if err != nil {
		// Config failures are fatal for the run: nothing is written.
		r.logger.Error("pipeline run aborted", "error", err)
		return Result{}, err
	}

	now := r.now().In(r.loc)
	date := daylog.DateOf(now, r.loc)

	day, err := r.days.Get(ctx, date)
	if err != nil {
		// Fail open to "first entry of the day" on any read failure.
		day = nil
	}
	previous := day.Last()

	minInterval := time.Duration(market.Settings.LogIntervalSeconds) * time.Second
	appendDecision := ShouldAppend(day, now, minInterval, r.loc)

	snapshot := r.scrape(ctx, market, now)

	if appendDecision && len(snapshot.Vendors) > 0 {
		day = append(day, snapshot)
		if err := r.days.Put(ctx, date, day); err != nil {
			// Reported, not fatal: the next scheduled run retries naturally.
			r.logger.Error("day log append failed", "date", date, "error", err)
		} else {
			r.logger.Info("snapshot logged", "date", date, "entries", len(day), "vendors", len(snapshot.Vendors))
		}
	} else {
		r.logger.Info("day log append skipped, refreshing caches only",
			"date", date, "interval_elapsed", appendDecision, "vendors", len(snapshot.Vendors))
	}

	annotated := Annotate(snapshot, previous)
	if err := r.publisher.Publish(ctx, annotated, now); err != nil {
		r.logger.Error("cache publish incomplete", "error", err)
	}

	return Result{
		OK:          true,
		ScrapedAt:   annotated.ScrapedAt,
		VendorCount: len(annotated.Vendors),
	}, nil
}

// scrape runs fetch+parse+build, degrading to a zero-filled snapshot when the
// page cannot be fetched so every trigger still refreshes the trend cache.
func (r *Runner) scrape(ctx context.Context, market *config.Market, now time.Time) types.Snapshot {
	markup, err := r.fetcher.Fetch(ctx, market.Settings.ScrapeURL)
	if err != nil {
		r.logger.Error("fetch failed, producing degraded snapshot", "error", err)
		return scrape.Degraded(market, now)
	}

	parser := scrape.NewParser(market.Servers, scrape.ResolverFor(market), r.logger)
	quotes := parser.Parse(markup)
	if len(quotes) == 0 {
		r.logger.Warn("no vendor rows parsed from markup", "bytes", len(markup))
	}
	return scrape.Build(quotes, now)
}
