package types

import "time"

// ScrapedAtLayout is the local-time timestamp format persisted on every snapshot.
const ScrapedAtLayout = "2006-01-02T15:04:05"

// DateLayout keys day logs by calendar date.
const DateLayout = "2006-01-02"

// Trend describes price movement relative to the previous logged snapshot.
type Trend string

const (
	TrendNone   Trend = "none"
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// ServerPrice holds the sell/buy quote for a single game server.
// Prices are nil when the cell was absent or unparsable.
type ServerPrice struct {
	ServerName string   `json:"serverName"`
	SellPrice  *float64 `json:"sellPrice"`
	BuyPrice   *float64 `json:"buyPrice"`
	SellTrend  Trend    `json:"sellTrend"`
	BuyTrend   Trend    `json:"buyTrend"`
}

// VendorQuote is one vendor's row of prices, ordered by the configured server list.
type VendorQuote struct {
	ID      string        `json:"id"`
	Servers []ServerPrice `json:"servers"`
}

// Snapshot is one capture of all vendor/server prices at a point in time.
type Snapshot struct {
	ScrapedAt  string        `json:"scrapedAt"`
	Vendors    []VendorQuote `json:"vendors"`
	StatusNote string        `json:"statusNote,omitempty"`
}

// DayLog is the append-only ordered list of snapshots for one calendar date.
type DayLog []Snapshot

// Last returns the most recent snapshot in the log, or nil when empty.
func (d DayLog) Last() *Snapshot {
	if len(d) == 0 {
		return nil
	}
	return &d[len(d)-1]
}

// ScrapedTime parses the snapshot timestamp in the given location.
func (s Snapshot) ScrapedTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(ScrapedAtLayout, s.ScrapedAt, loc)
}

// Float64 returns a pointer to v, for building price literals.
func Float64(v float64) *float64 {
	return &v
}
