// Package storage persists generated chart documents on local disk or S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	appconfig "github.com/ignite/marketing-analyst/internal/config"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// ArtifactStore writes and reads named artifacts. Put returns the location
// used to read the artifact back.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
}

// LocalStore keeps artifacts as files under a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Put writes name under the store directory. Any directory part of name is
// dropped.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	p := filepath.Join(s.dir, filepath.Base(name))
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("renaming %s: %w", name, err)
	}
	return p, nil
}

// Get reads a file previously written by Put. Locations outside the store
// directory are rejected.
func (s *LocalStore) Get(ctx context.Context, location string) ([]byte, error) {
	clean := filepath.Clean(location)
	dir := filepath.Clean(s.dir)
	if !strings.HasPrefix(clean, dir+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
	}
	data, err := os.ReadFile(clean)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
	}
	return data, err
}

// New builds the store selected by the catalog configuration.
func New(ctx context.Context, cfg appconfig.CatalogConfig) (ArtifactStore, error) {
	switch cfg.Store {
	case "", "local":
		return NewLocalStore(cfg.LocalPath)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("catalog.s3_bucket is required for the s3 store")
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, err
		}
		return NewS3Store(awsCfg, cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		return nil, fmt.Errorf("unknown artifact store %q", cfg.Store)
	}
}
