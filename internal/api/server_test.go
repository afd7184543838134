package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balrng/kogb/internal/blobstore"
	"github.com/balrng/kogb/internal/config"
	"github.com/balrng/kogb/internal/daylog"
	"github.com/balrng/kogb/internal/history"
	"github.com/balrng/kogb/internal/pipeline"
	"github.com/balrng/kogb/pkg/types"
)

const testMarkup = `<!doctype html><html><body>
<div id="veriYenile">
  <table>
    <tbody>
      <tr>
        <td><a href="https://alpha.example.com/store">Alpha</a></td>
        <td><span>10,5</span></td>
        <td><span>9</span></td>
      </tr>
    </tbody>
  </table>
</div>
</body></html>`

type fakeFetcher struct {
	mu      sync.Mutex
	body    []byte
	err     error
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	f.mu.Lock()
	release := f.release
	body, err := f.body, f.err
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return body, err
}

type fakeMarket struct {
	market *config.Market
	err    error
}

func (f *fakeMarket) Load(ctx context.Context) (*config.Market, error) {
	return f.market, f.err
}

func testMarket() *config.Market {
	return &config.Market{
		Servers: []config.ServerEntry{{Name: "Zuhal", Visible: true}},
		VendorConfig: []config.VendorEntry{
			{ID: "alpha", WebsiteURL: "https://alpha.example.com", Visible: true, DisplayOrder: 1},
		},
		Settings: config.Settings{
			ScrapeURL:          "https://vendor.example.com/prices",
			LogIntervalSeconds: 1800,
		},
	}
}

type serverFixture struct {
	server *Server
	blobs  blobstore.Store
	days   *daylog.Store
	now    time.Time
}

func newServerFixture(t *testing.T, opts func(*Options), fetcher pipeline.Fetcher, market pipeline.MarketLoader) *serverFixture {
	t.Helper()
	blobs, err := blobstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	days := daylog.New(blobs)
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	clock := func() time.Time { return now }

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Fetcher:   fetcher,
		Market:    market,
		Days:      days,
		Publisher: pipeline.NewPublisher(blobs, logger),
		Location:  time.UTC,
		Logger:    logger,
		Now:       clock,
	})
	svc := history.New(days, time.UTC, logger).WithClock(clock)

	options := Options{
		Blobs:   blobs,
		Runner:  runner,
		History: svc,
		Logger:  logger,
		Now:     clock,
	}
	if opts != nil {
		opts(&options)
	}
	return &serverFixture{
		server: NewServer(options),
		blobs:  blobs,
		days:   days,
		now:    now,
	}
}

func assertRoute(t *testing.T, handler http.Handler, method, path string, wantStatus int, wantType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s: status = %d, want %d (body %q)", method, path, rec.Code, wantStatus, rec.Body.String())
	}
	if wantType != "" && !strings.HasPrefix(rec.Header().Get("Content-Type"), wantType) {
		t.Fatalf("%s %s: content type = %q, want prefix %q", method, path, rec.Header().Get("Content-Type"), wantType)
	}
	return rec
}

func seedDay(t *testing.T, f *serverFixture, date string) {
	t.Helper()
	log := types.DayLog{{
		ScrapedAt: date + "T08:00:00",
		Vendors: []types.VendorQuote{{
			ID: "alpha",
			Servers: []types.ServerPrice{{
				ServerName: "Zuhal",
				SellPrice:  types.Float64(10.5),
				BuyPrice:   types.Float64(9),
				SellTrend:  types.TrendNone,
				BuyTrend:   types.TrendNone,
			}},
		}},
	}}
	require.NoError(t, f.days.Put(context.Background(), date, log))
}

func TestServerRoutes(t *testing.T) {
	f := newServerFixture(t, nil, &fakeFetcher{body: []byte(testMarkup)}, &fakeMarket{market: testMarket()})
	ctx := context.Background()

	assertRoute(t, f.server, http.MethodGet, "/health", http.StatusOK, "application/json")

	// Cold storage: every read endpoint 404s with its own message.
	rec := assertRoute(t, f.server, http.MethodGet, "/api/prices", http.StatusNotFound, "")
	assert.Contains(t, rec.Body.String(), "scraper may not have run yet")
	assertRoute(t, f.server, http.MethodGet, "/api/lastupdate", http.StatusNotFound, "")
	assertRoute(t, f.server, http.MethodGet, "/api/history", http.StatusNotFound, "")
	assertRoute(t, f.server, http.MethodGet, "/api/config", http.StatusNotFound, "")

	require.NoError(t, f.blobs.Put(ctx, blobstore.ContainerConfig, blobstore.KeyMarketConfig, []byte(`{"servers":[]}`)))
	assertRoute(t, f.server, http.MethodGet, "/api/config", http.StatusOK, "application/json")

	// One scrape run populates the caches and today's log.
	assertRoute(t, f.server, http.MethodPost, "/api/scrape", http.StatusOK, "application/json")

	rec = assertRoute(t, f.server, http.MethodGet, "/api/prices", http.StatusOK, "application/json")
	var snap types.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "2025-03-14T09:26:53", snap.ScrapedAt)

	rec = assertRoute(t, f.server, http.MethodGet, "/api/lastupdate", http.StatusOK, "text/plain")
	_, err := time.Parse(time.RFC3339, rec.Body.String())
	require.NoError(t, err)

	rec = assertRoute(t, f.server, http.MethodGet, "/api/history", http.StatusOK, "application/json")
	var log types.DayLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &log))
	assert.Len(t, log, 1)
}

func TestServerHistoryByDate(t *testing.T) {
	f := newServerFixture(t, nil, &fakeFetcher{body: []byte(testMarkup)}, &fakeMarket{market: testMarket()})
	seedDay(t, f, "2025-03-10")

	rec := assertRoute(t, f.server, http.MethodGet, "/api/history/2025-03-10", http.StatusOK, "application/json")
	var log types.DayLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &log))
	require.Len(t, log, 1)
	assert.Equal(t, "2025-03-10T08:00:00", log[0].ScrapedAt)

	assertRoute(t, f.server, http.MethodGet, "/api/history/2025-03-11", http.StatusNotFound, "")
	assertRoute(t, f.server, http.MethodGet, "/api/history/not-a-date", http.StatusBadRequest, "")
	assertRoute(t, f.server, http.MethodGet, "/api/history/2025-3-10", http.StatusBadRequest, "")
}

func TestServerHistorySummary(t *testing.T) {
	f := newServerFixture(t, nil, &fakeFetcher{body: []byte(testMarkup)}, &fakeMarket{market: testMarket()})
	seedDay(t, f, "2025-03-14")
	seedDay(t, f, "2025-03-13")

	rec := assertRoute(t, f.server, http.MethodGet, "/api/history/summary?days=2&metric=avg", http.StatusOK, "application/json")
	var payload struct {
		Days []history.DaySummary `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Days, 2)
	assert.Equal(t, "2025-03-13", payload.Days[0].Date)
	assert.Equal(t, "2025-03-14", payload.Days[1].Date)
}

func TestServerMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t, nil, &fakeFetcher{body: []byte(testMarkup)}, &fakeMarket{market: testMarket()})

	assertRoute(t, f.server, http.MethodPost, "/api/prices", http.StatusMethodNotAllowed, "")
	assertRoute(t, f.server, http.MethodDelete, "/api/history", http.StatusMethodNotAllowed, "")
	rec := assertRoute(t, f.server, http.MethodGet, "/api/scrape", http.StatusMethodNotAllowed, "")
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestServerScrapeConflict(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(testMarkup), release: make(chan struct{})}
	f := newServerFixture(t, nil, fetcher, &fakeMarket{market: testMarket()})

	first := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/scrape", nil)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		first <- rec.Code
	}()

	// Wait until the first run holds the guard, then trigger again.
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodPost, "/api/scrape", nil)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		return rec.Code == http.StatusConflict
	}, time.Second, 5*time.Millisecond)

	close(fetcher.release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestServerScrapeMarketConfigError(t *testing.T) {
	loadErr := fmt.Errorf("%w: settings.scrapeUrl is empty", config.ErrMarketConfig)
	f := newServerFixture(t, nil, &fakeFetcher{body: []byte(testMarkup)}, &fakeMarket{err: loadErr})

	rec := assertRoute(t, f.server, http.MethodPost, "/api/scrape", http.StatusInternalServerError, "application/json")
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, false, payload["ok"])
	assert.Contains(t, payload["error"], "scrapeUrl")
}

func TestServerScrapeRateLimited(t *testing.T) {
	f := newServerFixture(t, func(o *Options) {
		o.TriggerRate = time.Hour
		o.TriggerBurst = 1
	}, &fakeFetcher{body: []byte(testMarkup)}, &fakeMarket{market: testMarket()})

	assertRoute(t, f.server, http.MethodPost, "/api/scrape", http.StatusOK, "application/json")
	assertRoute(t, f.server, http.MethodPost, "/api/scrape", http.StatusTooManyRequests, "")
}

func TestServerHistoryCacheControlHeader(t *testing.T) {
	f := newServerFixture(t, func(o *Options) {
		o.HistoryTTL = 180 * time.Second
	}, &fakeFetcher{body: []byte(testMarkup)}, &fakeMarket{market: testMarket()})
	seedDay(t, f, "2025-03-10")

	rec := assertRoute(t, f.server, http.MethodGet, "/api/history/2025-03-10", http.StatusOK, "application/json")
	assert.Equal(t, "public, max-age=180", rec.Header().Get("Cache-Control"))

	// Served-from-cache responses carry the same header.
	rec = assertRoute(t, f.server, http.MethodGet, "/api/history/2025-03-10", http.StatusOK, "application/json")
	assert.Equal(t, "public, max-age=180", rec.Header().Get("Cache-Control"))
}

func TestHistoryCacheControlCaps(t *testing.T) {
	assert.Equal(t, "public, max-age=180", historyCacheControl(180*time.Second))
	assert.Equal(t, "public, max-age=300", historyCacheControl(10*time.Minute))
	assert.Equal(t, "public, max-age=0", historyCacheControl(0))
	assert.Equal(t, "public, max-age=0", historyCacheControl(-time.Second))
}

func TestServerPricesServedFromCache(t *testing.T) {
	f := newServerFixture(t, func(o *Options) {
		o.PricesTTL = 30 * time.Second
	}, &fakeFetcher{body: []byte(testMarkup)}, &fakeMarket{market: testMarket()})
	ctx := context.Background()

	require.NoError(t, f.blobs.Put(ctx, blobstore.ContainerCache, blobstore.KeyLatestWithTrend, []byte(`{"scrapedAt":"one","vendors":[]}`)))
	rec := assertRoute(t, f.server, http.MethodGet, "/api/prices", http.StatusOK, "application/json")
	assert.Contains(t, rec.Body.String(), "one")

	// Within the TTL the stored blob can change without affecting responses.
	require.NoError(t, f.blobs.Put(ctx, blobstore.ContainerCache, blobstore.KeyLatestWithTrend, []byte(`{"scrapedAt":"two","vendors":[]}`)))
	rec = assertRoute(t, f.server, http.MethodGet, "/api/prices", http.StatusOK, "application/json")
	assert.Contains(t, rec.Body.String(), "one")
	assert.Equal(t, "no-cache, max-age=0, must-revalidate", rec.Header().Get("Cache-Control"))
}
