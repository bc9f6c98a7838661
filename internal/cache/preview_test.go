package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxBytes int64) *PreviewCache {
	t.Helper()
	c, err := NewPreviewCache(t.TempDir(), time.Hour, maxBytes, nil, nil)
	require.NoError(t, err)
	return c
}

func TestPreviewCache_PutGet(t *testing.T) {
	c := newTestCache(t, 0)
	loc := "https://cdn.example.com/certs.parquet"

	_, ok := c.Get(loc)
	assert.False(t, ok)

	require.NoError(t, c.Put(loc, []byte(`{"data":[1,2,3]}`)))
	got, ok := c.Get(loc)
	require.True(t, ok)
	assert.JSONEq(t, `{"data":[1,2,3]}`, string(got))
	assert.Equal(t, 1, c.Len())
	assert.Positive(t, c.Size())

	assert.Error(t, c.Put(loc, []byte("{not json")))
}

func TestPreviewCache_TTL(t *testing.T) {
	c := newTestCache(t, 0)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put("https://h/a.parquet", []byte(`1`)))
	now = now.Add(30 * time.Minute)
	_, ok := c.Get("https://h/a.parquet")
	assert.True(t, ok)

	now = now.Add(31 * time.Minute)
	_, ok = c.Get("https://h/a.parquet")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestPreviewCache_LocalFileChangeInvalidates(t *testing.T) {
	c := newTestCache(t, 0)
	src := filepath.Join(t.TempDir(), "certs.parquet")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0644))

	require.NoError(t, c.Put(src, []byte(`"v1"`)))
	_, ok := c.Get(src)
	require.True(t, ok)

	require.NoError(t, os.WriteFile(src, []byte("version two"), 0644))
	_, ok = c.Get(src)
	assert.False(t, ok)
}

func TestPreviewCache_EvictsLeastRecentlyRead(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put("https://h/a", []byte(`"aaaaaaaaaaaaaaaa"`)))
	one := c.Size()
	c.maxBytes = one*2 + one/2

	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Put("https://h/b", []byte(`"bbbbbbbbbbbbbbbb"`)))

	now = now.Add(time.Second)
	_, ok := c.Get("https://h/a")
	require.True(t, ok)

	now = now.Add(time.Second)
	require.NoError(t, c.Put("https://h/c", []byte(`"cccccccccccccccc"`)))

	_, ok = c.Get("https://h/b")
	assert.False(t, ok, "b was least recently read")
	_, ok = c.Get("https://h/a")
	assert.True(t, ok)
	_, ok = c.Get("https://h/c")
	assert.True(t, ok)
}

func TestPreviewCache_ReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	c, err := NewPreviewCache(dir, time.Hour, 0, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put("https://h/a", []byte(`{"k":"v"}`)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk"+entrySuffix), []byte("garbage"), 0644))

	reopened, err := NewPreviewCache(dir, time.Hour, 0, nil, nil)
	require.NoError(t, err)
	got, ok := reopened.Get("https://h/a")
	require.True(t, ok)
	assert.JSONEq(t, `{"k":"v"}`, string(got))
	assert.Equal(t, 1, reopened.Len())

	_, err = os.Stat(filepath.Join(dir, "junk"+entrySuffix))
	assert.True(t, os.IsNotExist(err), "unreadable entry should be removed")

	reopened.Clear()
	assert.Equal(t, 0, reopened.Len())
	assert.Equal(t, int64(0), reopened.Size())
}
