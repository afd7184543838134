package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/balrng/kogb/internal/blobstore"
	"github.com/balrng/kogb/pkg/types"
)

// Publisher overwrites the two cache slots read by the serving layer: the
// trend-annotated latest snapshot and the last-scrape timestamp.
type Publisher struct {
	blobs  blobstore.Store
	logger *slog.Logger
}

// NewPublisher wraps the given blob store.
func NewPublisher(blobs blobstore.Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{blobs: blobs, logger: logger}
}

// Publish attempts both writes even when one fails; a partial failure leaves
// the caches transiently divergent from the day log, which the next
// successful run repairs.
func (p *Publisher) Publish(ctx context.Context, snapshot types.Snapshot, now time.Time) error {
	var snapErr, timeErr error

	data, err := json.Marshal(snapshot)
	if err != nil {
		snapErr = fmt.Errorf("encode trend cache: %w", err)
	} else if err := p.blobs.Put(ctx, blobstore.ContainerCache, blobstore.KeyLatestWithTrend, data); err != nil {
		snapErr = fmt.Errorf("write trend cache: %w", err)
	}
	if snapErr != nil {
		p.logger.Error("trend cache write failed", "error", snapErr)
	}

	stamp := now.UTC().Format(time.RFC3339)
	if err := p.blobs.Put(ctx, blobstore.ContainerCache, blobstore.KeyLastScrapeTime, []byte(stamp)); err != nil {
		timeErr = fmt.Errorf("write last scrape time: %w", err)
		p.logger.Error("last scrape time write failed", "error", timeErr)
	}

	return errors.Join(snapErr, timeErr)
}
