package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// ErrMarketConfig marks a missing or malformed market configuration document.
// A pipeline run that cannot load the document fails without writing anything.
var ErrMarketConfig = errors.New("market config unavailable")

// Market is the operator-maintained document describing the scraped page:
// the visible server columns, the known vendors, and scraper settings.
type Market struct {
	Servers      []ServerEntry `json:"servers"`
	VendorConfig []VendorEntry `json:"vendorConfig"`
	Settings     Settings      `json:"settings"`
}

// ServerEntry declares one server column of the vendor table.
type ServerEntry struct {
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// VendorEntry registers a known vendor and the website used to match table rows.
type VendorEntry struct {
	ID           string `json:"id"`
	WebsiteURL   string `json:"websiteUrl"`
	Visible      bool   `json:"visible"`
	DisplayOrder int    `json:"displayOrder"`
}

// Settings carries the scraper tunables stored alongside the registry.
type Settings struct {
	ScrapeURL            string `json:"scrapeUrl"`
	LogIntervalSeconds   int    `json:"logIntervalSeconds"`
	CacheDurationSeconds int    `json:"cacheDurationSeconds"`
}

// VisibleVendors returns the visible registry entries in display order.
func (m *Market) VisibleVendors() []VendorEntry {
	out := make([]VendorEntry, 0, len(m.VendorConfig))
	for _, v := range m.VendorConfig {
		if v.Visible {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}

// VisibleServers returns the names of visible servers in configured order.
func (m *Market) VisibleServers() []string {
	out := make([]string, 0, len(m.Servers))
	for _, s := range m.Servers {
		if s.Visible {
			out = append(out, s.Name)
		}
	}
	return out
}

// Validate checks the invariants every pipeline run depends on.
func (m *Market) Validate() error {
	if strings.TrimSpace(m.Settings.ScrapeURL) == "" {
		return fmt.Errorf("%w: settings.scrapeUrl is empty", ErrMarketConfig)
	}
	if len(m.Servers) == 0 {
		return fmt.Errorf("%w: no servers configured", ErrMarketConfig)
	}
	if m.Settings.LogIntervalSeconds < 0 {
		return fmt.Errorf("%w: settings.logIntervalSeconds is negative", ErrMarketConfig)
	}
	seen := make(map[string]struct{}, len(m.VendorConfig))
	for _, v := range m.VendorConfig {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("%w: vendor entry with empty id", ErrMarketConfig)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate vendor id %q", ErrMarketConfig, v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	return nil
}

// BlobGetter is the slice of the blob store the market loader needs.
type BlobGetter interface {
	Get(ctx context.Context, container, key string) ([]byte, error)
}

// MarketSource loads the market document from the config container,
// falling back to a local file when the blob is unreachable.
type MarketSource struct {
	blobs     BlobGetter
	container string
	key       string
	localPath string
	logger    *slog.Logger
}

// NewMarketSource wires a loader over the given blob store.
func NewMarketSource(blobs BlobGetter, container, key, localPath string, logger *slog.Logger) *MarketSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketSource{
		blobs:     blobs,
		container: container,
		key:       key,
		localPath: localPath,
		logger:    logger,
	}
}

// Load fetches and validates the market document.
func (s *MarketSource) Load(ctx context.Context) (*Market, error) {
	data, err := s.blobs.Get(ctx, s.container, s.key)
	if err != nil {
		s.logger.Warn("market config blob unavailable, trying local fallback",
			"container", s.container, "key", s.key, "error", err)
		data, err = s.readLocal()
		if err != nil {
			return nil, err
		}
	}
	var m Market
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMarketConfig, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MarketSource) readLocal() ([]byte, error) {
	if strings.TrimSpace(s.localPath) == "" {
		return nil, fmt.Errorf("%w: blob missing and no local fallback configured", ErrMarketConfig)
	}
	data, err := os.ReadFile(s.localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read local fallback %s: %v", ErrMarketConfig, s.localPath, err)
	}
	return data, nil
}
