package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"galley/internal/config"
	"galley/internal/services"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = fmt.Errorf("object %w", services.ErrNotFound)

// Object describes one stored object.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the subset of object storage the engine relies on.
type Store interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string, w io.Writer) error
}

// JobPrefix returns the namespace owned by a job.
func JobPrefix(jobID string) string {
	return "jobs/" + jobID + "/"
}

// JobKey returns the key of name inside the job namespace.
func JobKey(jobID, name string) string {
	return JobPrefix(jobID) + name
}

// TemplateKey returns the key of a project's template artifact.
func TemplateKey(project, template string) string {
	return path.Join("templates", project, template)
}

// New builds the store selected by cfg.
func New(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Backend {
	case config.StorageS3:
		return NewS3Store(ctx, cfg)
	case config.StorageLocal, "":
		return NewLocalStore(cfg.LocalRoot)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "open", fmt.Sprintf("unknown backend %q", cfg.Backend), nil)
	}
}

// Download copies key into dest, replacing it atomically.
func Download(ctx context.Context, store Store, key, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := store.Get(ctx, key, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("move %s into place: %w", key, err)
	}
	return nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}
