package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps each container as a directory under a root path.
// It backs local development and one-shot workflow runs.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		root = "data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(container, key string) (string, error) {
	if err := validateName(container); err != nil {
		return "", err
	}
	if err := validateName(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, container, key), nil
}

func (s *FSStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	p, err := s.path(container, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s/%s: %w", container, key, err)
	}
	return data, nil
}

func (s *FSStore) Put(ctx context.Context, container, key string, data []byte) error {
	p, err := s.path(container, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create container %s: %w", container, err)
	}
	// Write-then-rename so readers never observe a partial blob.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s/%s: %w", container, key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("commit blob %s/%s: %w", container, key, err)
	}
	return nil
}

func (s *FSStore) Exists(ctx context.Context, container, key string) (bool, error) {
	p, err := s.path(container, key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat blob %s/%s: %w", container, key, err)
	}
	return true, nil
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid blob name %q", name)
	}
	return nil
}
