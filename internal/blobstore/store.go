package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Container names used by the scraper and serving layer.
const (
	ContainerData   = "data"
	ContainerCache  = "cache"
	ContainerConfig = "config"
)

// Well-known blob keys.
const (
	KeyLatestWithTrend = "latest_with_trend.json"
	KeyLastScrapeTime  = "last_scrape_time.txt"
	KeyMarketConfig    = "config.json"
)

// ErrNotFound is returned when a blob does not exist in its container.
var ErrNotFound = errors.New("blob not found")

// Store is a durable key/value blob store partitioned into named containers.
type Store interface {
	Get(ctx context.Context, container, key string) ([]byte, error)
	Put(ctx context.Context, container, key string, data []byte) error
	Exists(ctx context.Context, container, key string) (bool, error)
}

// Options selects and configures a store backend.
type Options struct {
	Backend       string
	Root          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
}

// New constructs a Store from the configured backend.
func New(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "fs", "":
		return NewFSStore(opts.Root)
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
	case "postgres", "pg":
		return NewPostgresStore(opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", opts.Backend)
	}
}
