package pipeline

import "github.com/balrng/kogb/pkg/types"

// Annotate returns a copy of current with sell/buy trends computed against
// the previous snapshot. Vendor/server pairs with no previous counterpart,
// and pairs where either side's price is null, keep trend "none". Neither
// input is mutated.
func Annotate(current types.Snapshot, previous *types.Snapshot) types.Snapshot {
	out := current
	out.Vendors = make([]types.VendorQuote, len(current.Vendors))

	var prevByID map[string]types.VendorQuote
	if previous != nil {
		prevByID = make(map[string]types.VendorQuote, len(previous.Vendors))
		for _, v := range previous.Vendors {
			prevByID[v.ID] = v
		}
	}

	for i, vendor := range current.Vendors {
		copied := vendor
		copied.Servers = append([]types.ServerPrice(nil), vendor.Servers...)

		prevVendor, hasPrev := prevByID[vendor.ID]
		for j := range copied.Servers {
			server := &copied.Servers[j]
			server.SellTrend = types.TrendNone
			server.BuyTrend = types.TrendNone
			if !hasPrev {
				continue
			}
			prevServer, found := findServer(prevVendor.Servers, server.ServerName)
			if !found {
				continue
			}
			server.SellTrend = trendOf(server.SellPrice, prevServer.SellPrice)
			server.BuyTrend = trendOf(server.BuyPrice, prevServer.BuyPrice)
		}
		out.Vendors[i] = copied
	}
	return out
}

func findServer(servers []types.ServerPrice, name string) (types.ServerPrice, bool) {
	for _, s := range servers {
		if s.ServerName == name {
			return s, true
		}
	}
	return types.ServerPrice{}, false
}

func trendOf(current, previous *float64) types.Trend {
	if current == nil || previous == nil {
		return types.TrendNone
	}
	switch {
	case *current > *previous:
		return types.TrendUp
	case *current < *previous:
		return types.TrendDown
	default:
		return types.TrendStable
	}
}
