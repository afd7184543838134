package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/balrng/kogb/internal/blobstore"
	"github.com/balrng/kogb/internal/config"
	"github.com/balrng/kogb/internal/history"
	"github.com/balrng/kogb/internal/pipeline"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// pricesCacheControl keeps clients revalidating the live price document.
const pricesCacheControl = "no-cache, max-age=0, must-revalidate"

// historyMaxAgeCap bounds the client-side cache window for day logs.
const historyMaxAgeCap = 300 * time.Second

// Options wires the server's collaborators.
type Options struct {
	Blobs   blobstore.Store
	Runner  *pipeline.Runner
	History *history.Service
	// Response cache TTLs for the read endpoints.
	PricesTTL  time.Duration
	HistoryTTL time.Duration
	// Manual trigger throttling; a zero rate disables it.
	TriggerRate  time.Duration
	TriggerBurst int
	Logger       *slog.Logger
	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

// Server exposes the price data and scrape trigger over HTTP.
type Server struct {
	mux     *http.ServeMux
	blobs   blobstore.Store
	runner  *pipeline.Runner
	history *history.Service
	logger  *slog.Logger

	pricesCache  *ResponseCache
	historyCache *ResponseCache
	// historyCacheControl is derived from the history TTL; day logs for past
	// dates are immutable so clients may cache them briefly.
	historyCacheControl string
	trigger             *rate.Limiter
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:                 http.NewServeMux(),
		blobs:               opts.Blobs,
		runner:              opts.Runner,
		history:             opts.History,
		logger:              logger,
		pricesCache:         NewResponseCache(opts.PricesTTL, opts.Now),
		historyCache:        NewResponseCache(opts.HistoryTTL, opts.Now),
		historyCacheControl: historyCacheControl(opts.HistoryTTL),
	}
	if opts.TriggerRate > 0 {
		burst := opts.TriggerBurst
		if burst <= 0 {
			burst = 1
		}
		s.trigger = rate.NewLimiter(rate.Every(opts.TriggerRate), burst)
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/prices", s.handlePrices)
	s.mux.HandleFunc("/api/lastupdate", s.handleLastUpdate)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/api/history/", s.handleHistory)
	s.mux.HandleFunc("/api/config", s.handleConfig)
	s.mux.HandleFunc("/api/scrape", s.handleScrape)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if body, ok := s.pricesCache.Get("prices"); ok {
		writeCachedJSON(w, body, pricesCacheControl)
		return
	}
	data, err := s.blobs.Get(r.Context(), blobstore.ContainerCache, blobstore.KeyLatestWithTrend)
	if errors.Is(err, blobstore.ErrNotFound) {
		http.Error(w, "Data file not found. The scraper may not have run yet.", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("read trend cache failed", "error", err)
		http.Error(w, "Error retrieving data from storage.", http.StatusInternalServerError)
		return
	}
	s.pricesCache.Set("prices", data)
	writeCachedJSON(w, data, pricesCacheControl)
}

func (s *Server) handleLastUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	data, err := s.blobs.Get(r.Context(), blobstore.ContainerCache, blobstore.KeyLastScrapeTime)
	if errors.Is(err, blobstore.ErrNotFound) {
		http.Error(w, "Last update time not found.", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("read last update failed", "error", err)
		http.Error(w, "Error retrieving last update time.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	// Older writers stored the timestamp as a JSON string.
	_, _ = w.Write([]byte(strings.Trim(string(data), `"`)))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	segment := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/history"), "/")
	if segment == "summary" {
		s.handleHistorySummary(w, r)
		return
	}
	if segment != "" && !datePattern.MatchString(segment) {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	cacheKey := segment
	if cacheKey == "" {
		cacheKey = "recent"
	}
	if body, ok := s.historyCache.Get(cacheKey); ok {
		writeCachedJSON(w, body, s.historyCacheControl)
		return
	}

	var (
		log any
		err error
	)
	if segment == "" {
		_, log, err = s.history.Recent(r.Context())
	} else {
		log, err = s.history.Day(r.Context(), segment)
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		http.Error(w, "No recent data file found.", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("read history failed", "date", segment, "error", err)
		http.Error(w, "Error retrieving history.", http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(log)
	if err != nil {
		s.logger.Error("encode history failed", "error", err)
		http.Error(w, "Error retrieving history.", http.StatusInternalServerError)
		return
	}
	s.historyCache.Set(cacheKey, body)
	writeCachedJSON(w, body, s.historyCacheControl)
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	days := history.DefaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			days = v
		}
	}
	metric := strings.ToLower(r.URL.Query().Get("metric"))
	if metric == "" {
		metric = history.MetricLast
	}

	summaries, err := s.history.Summary(r.Context(), days, metric)
	if err != nil {
		s.logger.Error("history summary failed", "error", err)
		http.Error(w, "Error computing history summary.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": summaries})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	data, err := s.blobs.Get(r.Context(), blobstore.ContainerConfig, blobstore.KeyMarketConfig)
	if errors.Is(err, blobstore.ErrNotFound) {
		http.Error(w, "Config file not found.", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("read config blob failed", "error", err)
		http.Error(w, "Error retrieving config.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.trigger != nil && !s.trigger.Allow() {
		http.Error(w, "scrape trigger rate limited", http.StatusTooManyRequests)
		return
	}

	result, err := s.runner.Run(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, config.ErrMarketConfig):
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	case err != nil:
		s.logger.Error("scrape run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeCachedJSON(w http.ResponseWriter, body []byte, cacheControl string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheControl)
	_, _ = w.Write(body)
}

func historyCacheControl(ttl time.Duration) string {
	if ttl < 0 {
		ttl = 0
	}
	if ttl > historyMaxAgeCap {
		ttl = historyMaxAgeCap
	}
	return fmt.Sprintf("public, max-age=%d", int(ttl.Seconds()))
}
