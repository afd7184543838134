package scrape

import (
	"time"

	"github.com/balrng/kogb/internal/config"
	"github.com/balrng/kogb/pkg/types"
)

// NoteScrapeFailed marks snapshots produced by the degraded fallback path.
const NoteScrapeFailed = "scrape failed; prices zero-filled"

// Build wraps parsed quotes with a capture timestamp.
func Build(quotes []types.VendorQuote, now time.Time) types.Snapshot {
	return types.Snapshot{
		ScrapedAt: now.Format(types.ScrapedAtLayout),
		Vendors:   quotes,
	}
}

// Degraded produces a well-formed zero-filled snapshot when fetching or
// parsing failed, so downstream consumers always observe the full vendor and
// server shape. The status note distinguishes it from real data.
func Degraded(m *config.Market, now time.Time) types.Snapshot {
	servers := m.VisibleServers()
	vendors := m.VisibleVendors()

	quotes := make([]types.VendorQuote, 0, len(vendors))
	for _, v := range vendors {
		quote := types.VendorQuote{ID: v.ID, Servers: make([]types.ServerPrice, 0, len(servers))}
		for _, name := range servers {
			quote.Servers = append(quote.Servers, types.ServerPrice{
				ServerName: name,
				SellPrice:  types.Float64(0),
				BuyPrice:   types.Float64(0),
				SellTrend:  types.TrendNone,
				BuyTrend:   types.TrendNone,
			})
		}
		quotes = append(quotes, quote)
	}

	return types.Snapshot{
		ScrapedAt:  now.Format(types.ScrapedAtLayout),
		Vendors:    quotes,
		StatusNote: NoteScrapeFailed,
	}
}
