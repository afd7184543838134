package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMarket() Market {
	return Market{
		Servers: []ServerEntry{{Name: "Zuhal", Visible: true}},
		VendorConfig: []VendorEntry{
			{ID: "beta", WebsiteURL: "https://beta.example.com", Visible: true, DisplayOrder: 2},
			{ID: "alpha", WebsiteURL: "https://alpha.example.com", Visible: true, DisplayOrder: 1},
			{ID: "hidden", WebsiteURL: "https://hidden.example.com", Visible: false, DisplayOrder: 0},
		},
		Settings: Settings{
			ScrapeURL:          "https://vendor.example.com/prices",
			LogIntervalSeconds: 1800,
		},
	}
}

func TestMarketValidate(t *testing.T) {
	m := validMarket()
	require.NoError(t, m.Validate())

	noURL := validMarket()
	noURL.Settings.ScrapeURL = "  "
	assert.ErrorIs(t, noURL.Validate(), ErrMarketConfig)

	noServers := validMarket()
	noServers.Servers = nil
	assert.ErrorIs(t, noServers.Validate(), ErrMarketConfig)

	negInterval := validMarket()
	negInterval.Settings.LogIntervalSeconds = -1
	assert.ErrorIs(t, negInterval.Validate(), ErrMarketConfig)

	emptyID := validMarket()
	emptyID.VendorConfig[0].ID = ""
	assert.ErrorIs(t, emptyID.Validate(), ErrMarketConfig)

	dupID := validMarket()
	dupID.VendorConfig[1].ID = "beta"
	assert.ErrorIs(t, dupID.Validate(), ErrMarketConfig)
}

func TestMarketVisibleVendorsDisplayOrder(t *testing.T) {
	m := validMarket()
	got := m.VisibleVendors()
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].ID)
	assert.Equal(t, "beta", got[1].ID)
}

func TestMarketVisibleServers(t *testing.T) {
	m := Market{Servers: []ServerEntry{
		{Name: "Zuhal", Visible: true},
		{Name: "Minava", Visible: false},
		{Name: "Berkanos", Visible: true},
	}}
	assert.Equal(t, []string{"Zuhal", "Berkanos"}, m.VisibleServers())
}

type stubGetter struct {
	data []byte
	err  error
}

func (g stubGetter) Get(ctx context.Context, container, key string) ([]byte, error) {
	return g.data, g.err
}

const marketJSON = `{
  "servers": [{"name": "Zuhal", "visible": true}],
  "vendorConfig": [{"id": "alpha", "websiteUrl": "https://alpha.example.com", "visible": true, "displayOrder": 1}],
  "settings": {"scrapeUrl": "https://vendor.example.com/prices", "logIntervalSeconds": 1800, "cacheDurationSeconds": 180}
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarketSourceLoadsBlob(t *testing.T) {
	src := NewMarketSource(stubGetter{data: []byte(marketJSON)}, "config", "config.json", "", discardLogger())

	m, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://vendor.example.com/prices", m.Settings.ScrapeURL)
	assert.Equal(t, 1800, m.Settings.LogIntervalSeconds)
	require.Len(t, m.VendorConfig, 1)
	assert.Equal(t, "alpha", m.VendorConfig[0].ID)
}

func TestMarketSourceFallsBackToLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(marketJSON), 0o644))

	src := NewMarketSource(stubGetter{err: errors.New("store down")}, "config", "config.json", path, discardLogger())

	m, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://vendor.example.com/prices", m.Settings.ScrapeURL)
}

func TestMarketSourceNoFallbackConfigured(t *testing.T) {
	src := NewMarketSource(stubGetter{err: errors.New("store down")}, "config", "config.json", "", discardLogger())

	_, err := src.Load(context.Background())
	assert.ErrorIs(t, err, ErrMarketConfig)
}

func TestMarketSourceRejectsInvalidDocument(t *testing.T) {
	src := NewMarketSource(stubGetter{data: []byte(`{"servers": []}`)}, "config", "config.json", "", discardLogger())

	_, err := src.Load(context.Background())
	assert.ErrorIs(t, err, ErrMarketConfig)
}
