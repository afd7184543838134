// Package history answers read queries over the persisted day logs.
package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/balrng/kogb/internal/blobstore"
	"github.com/balrng/kogb/internal/daylog"
	"github.com/balrng/kogb/pkg/types"
)

// Rollup metrics.
const (
	MetricLast = "last"
	MetricAvg  = "avg"
)

// Summary parameter bounds, matching the serving contract.
const (
	DefaultDays = 30
	MaxDays     = 365
	// RecentLookback bounds the walk back from today when no date is given.
	RecentLookback = 7
)

// DaySummary pairs a date with its rollup snapshot.
type DaySummary struct {
	Date     string         `json:"date"`
	Snapshot types.Snapshot `json:"snapshot"`
}

// Service reads day logs; it never writes them.
type Service struct {
	days   *daylog.Store
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// New builds a history service over the day-log store.
func New(days *daylog.Store, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{days: days, loc: loc, logger: logger, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Day returns the log for an exact date, or blobstore.ErrNotFound.
func (s *Service) Day(ctx context.Context, date string) (types.DayLog, error) {
	return s.days.Get(ctx, date)
}

// Recent returns the newest day log within the lookback window, walking from
// today backwards. It returns the resolved date alongside the log.
func (s *Service) Recent(ctx context.Context) (string, types.DayLog, error) {
	now := s.now().In(s.loc)
	for i := 0; i < RecentLookback; i++ {
		date := daylog.DateOf(now.AddDate(0, 0, -i), s.loc)
		log, err := s.days.Get(ctx, date)
		if errors.Is(err, blobstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return date, log, nil
	}
	return "", nil, blobstore.ErrNotFound
}

// Summary rolls up the most recent `days` calendar dates, oldest to newest.
// Dates with no day log are omitted. Metric "last" emits each day's final
// snapshot unchanged; "avg" emits per vendor/server arithmetic means over the
// day's numeric observations, with a date-string timestamp since rollups are
// not real capture instants. Unknown metrics fall back to "last".
func (s *Service) Summary(ctx context.Context, days int, metric string) ([]DaySummary, error) {
	if days < 1 {
		days = DefaultDays
	}
	if days > MaxDays {
		days = MaxDays
	}

	now := s.now().In(s.loc)
	results := make([]DaySummary, 0, days)
	for i := days - 1; i >= 0; i-- {
		date := daylog.DateOf(now.AddDate(0, 0, -i), s.loc)
		exists, err := s.days.Exists(ctx, date)
		if err != nil {
			s.logger.Warn("day log existence check failed, omitting from summary", "date", date, "error", err)
			continue
		}
		if !exists {
			continue
		}
		log, err := s.days.Get(ctx, date)
		if errors.Is(err, blobstore.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("day log unreadable, omitting from summary", "date", date, "error", err)
			continue
		}
		if len(log) == 0 {
			continue
		}

		var snapshot types.Snapshot
		switch metric {
		case MetricAvg:
			snapshot = averageOf(date, log)
		default:
			snapshot = *log.Last()
		}
		results = append(results, DaySummary{Date: date, Snapshot: snapshot})
	}
	return results, nil
}

type pairStats struct {
	sellSum float64
	sellN   int
	buySum  float64
	buyN    int
}

// averageOf folds every snapshot in the log into per vendor/server means,
// preserving first-seen vendor and server order. A pair with zero numeric
// observations yields a null price, never zero.
func averageOf(date string, log types.DayLog) types.Snapshot {
	vendorOrder := make([]string, 0, 8)
	serverOrder := make(map[string][]string)
	stats := make(map[string]map[string]*pairStats)

	for _, snapshot := range log {
		for _, vendor := range snapshot.Vendors {
			servers, known := stats[vendor.ID]
			if !known {
				servers = make(map[string]*pairStats)
				stats[vendor.ID] = servers
				vendorOrder = append(vendorOrder, vendor.ID)
			}
			for _, server := range vendor.Servers {
				st, seen := servers[server.ServerName]
				if !seen {
					st = &pairStats{}
					servers[server.ServerName] = st
					serverOrder[vendor.ID] = append(serverOrder[vendor.ID], server.ServerName)
				}
				if server.SellPrice != nil {
					st.sellSum += *server.SellPrice
					st.sellN++
				}
				if server.BuyPrice != nil {
					st.buySum += *server.BuyPrice
					st.buyN++
				}
			}
		}
	}

	vendors := make([]types.VendorQuote, 0, len(vendorOrder))
	for _, id := range vendorOrder {
		servers := make([]types.ServerPrice, 0, len(serverOrder[id]))
		for _, name := range serverOrder[id] {
			st := stats[id][name]
			servers = append(servers, types.ServerPrice{
				ServerName: name,
				SellPrice:  meanOf(st.sellSum, st.sellN),
				BuyPrice:   meanOf(st.buySum, st.buyN),
				SellTrend:  types.TrendNone,
				BuyTrend:   types.TrendNone,
			})
		}
		vendors = append(vendors, types.VendorQuote{ID: id, Servers: servers})
	}

	return types.Snapshot{ScrapedAt: date, Vendors: vendors}
}

func meanOf(sum float64, n int) *float64 {
	if n == 0 {
		return nil
	}
	return types.Float64(sum / float64(n))
}
