package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const blobsSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	container  TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (container, key)
)`

// PostgresStore keeps blobs in a single table, for deployments that already
// run Postgres instead of a dedicated object store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection and ensures the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, blobsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate blobs table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE container = $1 AND key = $2`,
		container, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select blob %s/%s: %w", container, key, err)
	}
	return data, nil
}

func (s *PostgresStore) Put(ctx context.Context, container, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (container, key, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (container, key)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		container, key, data,
	)
	if err != nil {
		return fmt.Errorf("upsert blob %s/%s: %w", container, key, err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, container, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM blobs WHERE container = $1 AND key = $2)`,
		container, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check blob %s/%s: %w", container, key, err)
	}
	return exists, nil
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
