package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run the price scraper service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Scrape  ScrapeConfig  `yaml:"scrape"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Render  RenderConfig  `yaml:"render"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the blob store backend.
type StorageConfig struct {
	Backend  string         `yaml:"backend"`
	Root     string         `yaml:"root"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig describes the Redis connection for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig describes the connection for the postgres backend.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ScrapeConfig controls the periodic pipeline driver.
type ScrapeConfig struct {
	Interval Duration `yaml:"interval"`
	// Timezone is the reference timezone for day-log keys and timestamps.
	Timezone string `yaml:"timezone"`
	// LocalConfigPath is the market config fallback when the blob is missing.
	LocalConfigPath string `yaml:"local_config_path"`
	// TriggerRate throttles manual POST /api/scrape invocations.
	TriggerRate  Duration `yaml:"trigger_rate"`
	TriggerBurst int      `yaml:"trigger_burst"`
}

// FetchConfig controls the primary HTTP fetch strategy.
type FetchConfig struct {
	UserAgent    string            `yaml:"user_agent"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      Duration          `yaml:"timeout"`
	MaxBodyBytes int64             `yaml:"max_body_bytes"`
	ProxyURL     string            `yaml:"proxy_url"`
	// TableMarker is the container id expected in genuine result pages;
	// its absence signals an anti-bot challenge page.
	TableMarker string `yaml:"table_marker"`
}

// RenderConfig controls the fallback headless-browser strategy.
type RenderConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	DisableHeadless    bool     `yaml:"disable_headless"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
}

// CacheConfig sets TTLs for the read-endpoint response caches.
type CacheConfig struct {
	PricesTTL  Duration `yaml:"prices_ttl"`
	HistoryTTL Duration `yaml:"history_ttl"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Storage: StorageConfig{
			Backend: "fs",
			Root:    "blobdata",
		},
		Scrape: ScrapeConfig{
			Interval:        DurationFrom(5 * time.Minute),
			Timezone:        "Europe/Istanbul",
			LocalConfigPath: "config.json",
			TriggerRate:     DurationFrom(10 * time.Second),
			TriggerBurst:    3,
		},
		Fetch: FetchConfig{
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
			Headers:      map[string]string{},
			Timeout:      DurationFrom(15 * time.Second),
			MaxBodyBytes: 5 * 1024 * 1024,
			TableMarker:  "veriYenile",
		},
		Render: RenderConfig{
			Enabled:            true,
			Timeout:            DurationFrom(45 * time.Second),
			WaitForSelector:    "#veriYenile",
			ConcurrentSessions: 1,
		},
		Cache: CacheConfig{
			PricesTTL:  DurationFrom(30 * time.Second),
			HistoryTTL: DurationFrom(180 * time.Second),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
// An empty path yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer fh.Close()
		if err := decodeYAML(fh, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// applyEnv lets deployment environments override connection settings
// without editing the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("KOGB_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("KOGB_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("KOGB_STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("KOGB_REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv("KOGB_REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("KOGB_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Storage.Redis.DB = db
		}
	}
	if v := os.Getenv("KOGB_POSTGRES_DSN"); v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("KOGB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate enforces required invariants for the service configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr must be set")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case "fs", "":
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis backend")
		}
	case "postgres", "pg":
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend)
	}
	if c.Fetch.Timeout.Duration <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return fmt.Errorf("fetch.user_agent must be set")
	}
	if c.Render.Enabled && c.Render.Timeout.Duration <= 0 {
		return fmt.Errorf("render.timeout must be > 0 when rendering is enabled")
	}
	if c.Scrape.Interval.Duration < 0 {
		return fmt.Errorf("scrape.interval must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured reference timezone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Scrape.Timezone)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid scrape.timezone %q: %w", name, err)
	}
	return loc, nil
}
