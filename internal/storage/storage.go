// Package storage moves dataset files from object storage, HTTP origins and
// local directories onto the local filesystem so the query engine can open
// them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound       = errors.New("object not found")
	ErrDownloadFailed       = errors.New("download failed")
	ErrUnsupportedLocator   = errors.New("unsupported locator")
	ErrObjectStoreNotConfig = errors.New("object storage not configured")
)

// ObjectStorage is the read side of a bucket-like store.
type ObjectStorage interface {
	// Download copies the object at key to localPath.
	Download(ctx context.Context, key, localPath string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the object size in bytes.
	Size(ctx context.Context, key string) (int64, error)

	// ListObjects returns every key under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Fetcher copies the file addressed by a locator to a local path.
type Fetcher interface {
	FetchToFile(ctx context.Context, locator, localPath string) error
}

// Materialize fetches locator into dest. The data is written to a
// "<dest>.download" sibling first and renamed into place, so dest is either
// absent or complete. The partial file is removed on failure.
func Materialize(ctx context.Context, f Fetcher, locator, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.download")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := f.FetchToFile(ctx, locator, tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return nil
}
