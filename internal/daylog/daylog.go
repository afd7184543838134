// Package daylog persists the append-only per-day snapshot logs.
package daylog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/balrng/kogb/internal/blobstore"
	"github.com/balrng/kogb/pkg/types"
)

// Store reads and writes day logs in the data container, one JSON array per
// calendar date.
type Store struct {
	blobs blobstore.Store
}

// New wraps the given blob store.
func New(blobs blobstore.Store) *Store {
	return &Store{blobs: blobs}
}

// Key maps a date string to its blob key.
func Key(date string) string {
	return date + ".json"
}

// DateOf formats t as a day-log date in the reference timezone.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(types.DateLayout)
}

// Get returns the log for a date, or blobstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, date string) (types.DayLog, error) {
	data, err := s.blobs.Get(ctx, blobstore.ContainerData, Key(date))
	if err != nil {
		return nil, err
	}
	var log types.DayLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("decode day log %s: %w", date, err)
	}
	return log, nil
}

// Put overwrites the log for a date.
func (s *Store) Put(ctx context.Context, date string, log types.DayLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode day log %s: %w", date, err)
	}
	if err := s.blobs.Put(ctx, blobstore.ContainerData, Key(date), data); err != nil {
		return fmt.Errorf("store day log %s: %w", date, err)
	}
	return nil
}

// Exists reports whether a log exists for the date.
func (s *Store) Exists(ctx context.Context, date string) (bool, error) {
	return s.blobs.Exists(ctx, blobstore.ContainerData, Key(date))
}
