package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/datapage/certsearch/internal/storage"
)

type slowFetcher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *slowFetcher) FetchToFile(ctx context.Context, loc, localPath string) error {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		os.WriteFile(localPath, []byte("partial"), 0644)
		return f.err
	}
	return os.WriteFile(localPath, []byte(loc), 0644)
}

func TestMaterializer_SingleDownloadUnderConcurrency(t *testing.T) {
	f := &slowFetcher{delay: 50 * time.Millisecond}
	dir := t.TempDir()
	m := NewMaterializer(dir, f, 2, nil)
	loc := "https://cdn.example.com/blob/1_certs.duckdb?v=2"

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := m.Ensure(context.Background(), loc)
			if err != nil {
				t.Errorf("Ensure: %v", err)
			}
			paths[i] = p
		}(i)
	}
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	want := m.destFor(loc)
	if filepath.Dir(want) != dir || !strings.HasSuffix(want, "_1_certs.duckdb") {
		t.Errorf("destFor = %q", want)
	}
	for _, p := range paths {
		if p != want {
			t.Errorf("path = %q, want %q", p, want)
		}
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestMaterializer_RefetchesWhenFileRemoved(t *testing.T) {
	f := &slowFetcher{}
	m := NewMaterializer(t.TempDir(), f, 1, nil)
	ctx := context.Background()
	loc := "https://h/x.duckdb"

	p, err := m.Ensure(ctx, loc)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Ensure(ctx, loc); err != nil {
		t.Fatal(err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("calls = %d", f.calls.Load())
	}

	os.Remove(p)
	if _, ok := m.Get(loc); ok {
		t.Error("Get should miss once the file is gone")
	}
	if _, err := m.Ensure(ctx, loc); err != nil {
		t.Fatal(err)
	}
	if f.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", f.calls.Load())
	}
}

func TestMaterializer_FailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	m := NewMaterializer(dir, &slowFetcher{err: storage.ErrDownloadFailed}, 1, nil)

	_, err := m.Ensure(context.Background(), "https://h/broken.duckdb")
	if apperrors.GetCode(err) != apperrors.CodeDownloadFailed {
		t.Errorf("code = %q, want DOWNLOAD_FAILED", apperrors.GetCode(err))
	}
	if !apperrors.IsRetryable(err) {
		t.Error("download failures should be retryable")
	}
	if !errors.Is(err, storage.ErrDownloadFailed) {
		t.Error("cause not preserved")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("leftover files: %v", entries)
	}

	m = NewMaterializer(dir, &slowFetcher{err: storage.ErrObjectNotFound}, 1, nil)
	_, err = m.Ensure(context.Background(), "https://h/gone.duckdb")
	if apperrors.GetCode(err) != apperrors.CodeObjectNotFound {
		t.Errorf("code = %q, want OBJECT_NOT_FOUND", apperrors.GetCode(err))
	}
}

func TestMaterializer_FallbackName(t *testing.T) {
	m := NewMaterializer("/cache", nil, 1, nil)
	got := m.destFor("https://example.com/")
	if filepath.Dir(got) != "/cache" || filepath.Ext(got) != ".duckdb" || len(filepath.Base(got)) != len("duckdb_")+32+len(".duckdb") {
		t.Errorf("destFor = %q", got)
	}
}

func TestMaterializer_Prefetch(t *testing.T) {
	f := &slowFetcher{}
	m := NewMaterializer(t.TempDir(), f, 2, nil)
	locs := []string{
		"https://h/a.duckdb",
		"https://h/b.duckdb",
		"https://h/c.parquet",
		"/local/d.duckdb",
	}

	n, errs := m.Prefetch(context.Background(), locs)
	if n != 2 || len(errs) != 0 {
		t.Fatalf("Prefetch = %d, %v", n, errs)
	}
	if f.calls.Load() != 2 {
		t.Errorf("calls = %d", f.calls.Load())
	}
	if _, err := m.Ensure(context.Background(), "https://h/a.duckdb"); err != nil {
		t.Fatal(err)
	}
	if f.calls.Load() != 2 {
		t.Error("Ensure refetched a prefetched file")
	}

	n, _ = m.Prefetch(context.Background(), locs)
	if n != 2 || f.calls.Load() != 2 {
		t.Errorf("second prefetch = %d, calls %d", n, f.calls.Load())
	}
}

func TestMaterializer_SameFileNameDifferentLocators(t *testing.T) {
	f := &slowFetcher{}
	m := NewMaterializer(t.TempDir(), f, 2, nil)
	ctx := context.Background()
	a := "https://bucket-a.example.com/exports/certs.duckdb"
	b := "https://bucket-b.example.com/archive/certs.duckdb"

	pa, err := m.Ensure(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := m.Ensure(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if pa == pb {
		t.Fatalf("both locators materialized to %q", pa)
	}
	for loc, p := range map[string]string{a: pa, b: pb} {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != loc {
			t.Errorf("%s holds %q, want content of %s", p, data, loc)
		}
		if filepath.Ext(p) != ".duckdb" {
			t.Errorf("%s lost its extension", p)
		}
	}

	n, errs := m.Prefetch(ctx, []string{a, b})
	if n != 2 || len(errs) != 0 || f.calls.Load() != 2 {
		t.Errorf("Prefetch = %d, %v, calls %d", n, errs, f.calls.Load())
	}
}

func TestMaterializer_PrefetchSharesDownloadWithEnsure(t *testing.T) {
	f := &slowFetcher{delay: 100 * time.Millisecond}
	m := NewMaterializer(t.TempDir(), f, 4, nil)
	loc := "https://h/shared.duckdb"
	ctx := context.Background()

	var wg sync.WaitGroup
	var prefetched int
	var prefetchErrs map[string]error
	wg.Add(1)
	go func() {
		defer wg.Done()
		prefetched, prefetchErrs = m.Prefetch(ctx, []string{loc})
	}()

	paths := make([]string, 4)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			p, err := m.Ensure(ctx, loc)
			if err != nil {
				t.Errorf("Ensure: %v", err)
			}
			paths[i] = p
		}(i)
	}
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if prefetched != 1 || len(prefetchErrs) != 0 {
		t.Errorf("Prefetch = %d, %v", prefetched, prefetchErrs)
	}
	for _, p := range paths {
		if p != m.destFor(loc) {
			t.Errorf("path = %q, want %q", p, m.destFor(loc))
		}
	}
}
