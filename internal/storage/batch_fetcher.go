package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchFetcher materializes several locators in parallel.
type BatchFetcher struct {
	materialize MaterializeFunc
	concurrency int
}

// MaterializeFunc places the content of locator at dest.
type MaterializeFunc func(ctx context.Context, locator, dest string) error

// FetchRequest names a locator and where it should land.
type FetchRequest struct {
	Locator string
	Dest    string
}

// BatchResult contains the outcome of a batch fetch.
type BatchResult struct {
	// Paths maps each successful locator to its local file.
	Paths  map[string]string
	Errors map[string]error
	// Existing counts destinations that were already on disk.
	Existing int
	Fetched  int
}

// NewBatchFetcher creates a fetcher running at most concurrency downloads at
// a time (minimum 1).
func NewBatchFetcher(f Fetcher, concurrency int) *BatchFetcher {
	return NewBatchFetcherFunc(func(ctx context.Context, locator, dest string) error {
		return Materialize(ctx, f, locator, dest)
	}, concurrency)
}

// NewBatchFetcherFunc is NewBatchFetcher with a custom download step, for
// callers that coordinate downloads themselves.
func NewBatchFetcherFunc(fn MaterializeFunc, concurrency int) *BatchFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchFetcher{materialize: fn, concurrency: concurrency}
}

// FetchAll materializes every request. Destinations that already exist are
// reused. Per-locator failures are reported in the result, not as an error.
func (b *BatchFetcher) FetchAll(ctx context.Context, reqs []FetchRequest) *BatchResult {
	result := &BatchResult{
		Paths:  make(map[string]string),
		Errors: make(map[string]error),
	}

	var queue []FetchRequest
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		if _, dup := seen[r.Locator]; dup {
			continue
		}
		seen[r.Locator] = struct{}{}
		if info, err := os.Stat(r.Dest); err == nil && !info.IsDir() {
			result.Paths[r.Locator] = r.Dest
			result.Existing++
			continue
		}
		queue = append(queue, r)
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, r := range queue {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[r.Locator] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(r FetchRequest) {
			defer sem.Release(1)
			defer wg.Done()

			err := b.materialize(ctx, r.Locator, r.Dest)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[r.Locator] = err
				return
			}
			result.Paths[r.Locator] = r.Dest
			result.Fetched++
		}(r)
	}

	wg.Wait()
	return result
}
