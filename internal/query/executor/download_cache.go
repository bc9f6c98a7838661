package executor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/datapage/certsearch/internal/locator"
	"github.com/datapage/certsearch/internal/observability"
	"github.com/datapage/certsearch/internal/storage"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheDir is where remote files are materialized.
const DefaultCacheDir = "/tmp/datapage_duckdb_cache"

// Materializer keeps local copies of remote dataset files. Each locator is
// downloaded at most once per process; files are treated as immutable
// snapshots and are never refreshed.
type Materializer struct {
	dir     string
	fetcher storage.Fetcher
	batch   *storage.BatchFetcher

	mu    sync.Mutex
	paths map[string]string // locator -> local path
	group singleflight.Group

	logger *slog.Logger
}

// NewMaterializer creates a materializer writing into dir. Prefetch runs up
// to concurrency downloads at once.
func NewMaterializer(dir string, fetcher storage.Fetcher, concurrency int, logger *slog.Logger) *Materializer {
	if dir == "" {
		dir = DefaultCacheDir
	}
	m := &Materializer{
		dir:     dir,
		fetcher: fetcher,
		paths:   make(map[string]string),
		logger:  observability.Component(logger, "materializer"),
	}
	m.batch = storage.NewBatchFetcherFunc(func(ctx context.Context, loc, _ string) error {
		_, err := m.Ensure(ctx, loc)
		return err
	}, concurrency)
	return m
}

// Get returns the local copy of loc if it is materialized and still on disk.
func (m *Materializer) Get(loc string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(loc)
}

func (m *Materializer) getLocked(loc string) (string, bool) {
	p, ok := m.paths[loc]
	if !ok {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		delete(m.paths, loc)
		return "", false
	}
	return p, true
}

// Ensure returns a local path holding the content of loc, downloading it on
// first use. Concurrent callers for the same locator share one download.
func (m *Materializer) Ensure(ctx context.Context, loc string) (string, error) {
	if p, ok := m.Get(loc); ok {
		return p, nil
	}

	v, err, _ := m.group.Do(loc, func() (interface{}, error) {
		m.mu.Lock()
		if p, ok := m.getLocked(loc); ok {
			m.mu.Unlock()
			return p, nil
		}
		m.mu.Unlock()

		dest := m.destFor(loc)
		if err := storage.Materialize(ctx, m.fetcher, loc, dest); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, apperrors.NewStorageError(apperrors.CodeObjectNotFound, "remote file not found: "+loc, err)
			}
			return nil, apperrors.NewDownloadError(loc, err)
		}

		m.mu.Lock()
		m.paths[loc] = dest
		m.mu.Unlock()
		return dest, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Prefetch materializes the remote embedded-database locators in locs.
// Other locators are ignored. Downloads go through Ensure, so a search that
// needs a locator mid-prefetch waits on the same download. It returns the number of files now available
// and the per-locator failures.
func (m *Materializer) Prefetch(ctx context.Context, locs []string) (int, map[string]error) {
	var reqs []storage.FetchRequest
	available := 0
	for _, loc := range locs {
		info := locator.Introspect(loc)
		if !info.IsRemote || !info.IsEmbeddedDatabase {
			continue
		}
		if _, ok := m.Get(loc); ok {
			available++
			continue
		}
		reqs = append(reqs, storage.FetchRequest{Locator: loc, Dest: m.destFor(loc)})
	}
	if len(reqs) == 0 {
		return available, nil
	}

	res := m.batch.FetchAll(ctx, reqs)
	m.mu.Lock()
	for loc, p := range res.Paths {
		m.paths[loc] = p
	}
	m.mu.Unlock()

	if len(res.Errors) > 0 {
		m.logger.Warn("prefetch incomplete", "failed", len(res.Errors), "fetched", res.Fetched)
	}
	return available + len(res.Paths), res.Errors
}

// Len returns the number of materialized locators.
func (m *Materializer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paths)
}

// destFor names the local copy after a digest of the whole locator followed
// by its last path segment, so locators sharing a file name stay apart. A
// path with no file name gets the full digest.
func (m *Materializer) destFor(loc string) string {
	sum := md5.Sum([]byte(loc))
	digest := hex.EncodeToString(sum[:])
	name := locator.FileName(loc)
	if name == "" || name == "." {
		return filepath.Join(m.dir, "duckdb_"+digest+".duckdb")
	}
	return filepath.Join(m.dir, digest[:12]+"_"+name)
}
