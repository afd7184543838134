package scrape

import (
	"bytes"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/balrng/kogb/internal/config"
	"github.com/balrng/kogb/pkg/types"
)

// tableSelector locates the unique results table on the vendor page.
const tableSelector = "#veriYenile table"

var nonNumeric = regexp.MustCompile(`[^0-9.,\-]`)

// Parser extracts vendor/server price records from page markup.
// Parsing is pure given the markup and configuration.
type Parser struct {
	servers  []config.ServerEntry
	resolver VendorResolver
	logger   *slog.Logger
}

// NewParser builds a parser over the configured server columns.
// The server list is matched to table columns positionally, not by label,
// since header formatting varies.
func NewParser(servers []config.ServerEntry, resolver VendorResolver, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{servers: servers, resolver: resolver, logger: logger}
}

// Parse returns one quote per attributable table row. A missing table yields
// an empty result, not an error: it signals "no data on this fetch".
func (p *Parser) Parse(markup []byte) []types.VendorQuote {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		p.logger.Warn("markup not parseable as html", "error", err)
		return nil
	}

	table := doc.Find(tableSelector).First()
	if table.Length() == 0 {
		p.logger.Warn("vendor table not found in markup")
		return nil
	}

	// Each visible server occupies a sell and a buy column after the leading
	// link cell; hidden servers do not raise the minimum.
	visible := 0
	for _, server := range p.servers {
		if server.Visible {
			visible++
		}
	}
	minCells := 1 + 2*visible

	var quotes []types.VendorQuote
	seen := make(map[string]struct{})

	table.Find("tbody tr").Each(func(rowIdx int, row *goquery.Selection) {
		cells := row.Find("th,td")
		if cells.Length() < minCells {
			p.logger.Debug("skipping malformed row", "row", rowIdx, "cells", cells.Length())
			return
		}

		link, found := cells.Eq(0).Find("a[href]").First().Attr("href")
		if !found {
			return
		}
		id, ok := p.resolver.Resolve(link)
		if !ok {
			p.logger.Debug("skipping row with unresolvable vendor", "row", rowIdx, "link", link)
			return
		}
		if _, dup := seen[id]; dup {
			p.logger.Debug("skipping duplicate vendor row", "row", rowIdx, "vendor", id)
			return
		}

		quote := types.VendorQuote{ID: id}
		cellIdx := 1
		for _, server := range p.servers {
			if !server.Visible {
				cellIdx += 2
				continue
			}
			quote.Servers = append(quote.Servers, types.ServerPrice{
				ServerName: server.Name,
				SellPrice:  parsePrice(cells.Eq(cellIdx)),
				BuyPrice:   parsePrice(cells.Eq(cellIdx + 1)),
				SellTrend:  types.TrendNone,
				BuyTrend:   types.TrendNone,
			})
			cellIdx += 2
		}

		seen[id] = struct{}{}
		quotes = append(quotes, quote)
	})

	return quotes
}

// parsePrice extracts a numeric value from a price cell, preferring an inner
// text-bearing span. Unparsable or missing text yields nil.
func parsePrice(cell *goquery.Selection) *float64 {
	if cell.Length() == 0 {
		return nil
	}
	text := cell.Text()
	if span := cell.Find("span").First(); span.Length() > 0 {
		text = span.Text()
	}
	text = nonNumeric.ReplaceAllString(strings.TrimSpace(text), "")
	// The page renders decimals with a comma.
	text = strings.Replace(text, ",", ".", 1)
	if text == "" {
		return nil
	}
	val, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return &val
}
