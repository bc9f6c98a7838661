// Package cache keeps dataset previews (first page plus per-field summary)
// on local disk so repeated file-info requests skip the query engine.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/datapage/certsearch/internal/locator"
	"github.com/datapage/certsearch/internal/observability"
	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"
)

const (
	DefaultPreviewTTL      = 24 * time.Hour
	DefaultPreviewMaxBytes = 256 * 1024 * 1024
	entrySuffix            = ".preview"
)

// envelope is the on-disk form of an entry, snappy-compressed.
type envelope struct {
	Locator     string          `json:"locator"`
	Fingerprint string          `json:"fingerprint"`
	CreatedAt   time.Time       `json:"created_at"`
	Payload     json.RawMessage `json:"payload"`
}

type previewEntry struct {
	path        string
	fingerprint string
	createdAt   time.Time
	lastAccess  time.Time
	sizeBytes   int64
}

// PreviewCache stores one preview per locator. Entries expire after the TTL
// and are invalidated when the source fingerprint changes. When the total
// size exceeds the budget the least recently read entries are removed.
type PreviewCache struct {
	dir      string
	ttl      time.Duration
	maxBytes int64

	mu    sync.Mutex
	index map[string]*previewEntry // locator -> entry
	size  int64

	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPreviewCache opens (or creates) a cache in dir and indexes any entries
// already there. Unreadable files are removed.
func NewPreviewCache(dir string, ttl time.Duration, maxBytes int64, logger *slog.Logger, metrics *observability.Metrics) (*PreviewCache, error) {
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	if maxBytes <= 0 {
		maxBytes = DefaultPreviewMaxBytes
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create preview dir: %w", err)
	}

	c := &PreviewCache{
		dir:      dir,
		ttl:      ttl,
		maxBytes: maxBytes,
		index:    make(map[string]*previewEntry),
		now:      time.Now,
		logger:   observability.Component(logger, "preview_cache"),
		metrics:  metrics,
	}
	if err := c.scan(); err != nil {
		return nil, fmt.Errorf("failed to scan preview dir: %w", err)
	}
	return c, nil
}

func (c *PreviewCache) scan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entrySuffix) {
			continue
		}
		p := filepath.Join(c.dir, e.Name())
		env, size, err := readEnvelope(p)
		if err != nil {
			os.Remove(p)
			continue
		}
		c.index[env.Locator] = &previewEntry{
			path:        p,
			fingerprint: env.Fingerprint,
			createdAt:   env.CreatedAt,
			lastAccess:  env.CreatedAt,
			sizeBytes:   size,
		}
		c.size += size
	}
	return nil
}

// Fingerprint identifies the current content of loc: name, size and mtime
// for local files, the locator itself for remote ones.
func Fingerprint(loc string) string {
	info := locator.Introspect(loc)
	key := loc
	if !info.IsRemote {
		if st, err := os.Stat(loc); err == nil {
			key = fmt.Sprintf("%s:%d:%d", st.Name(), st.Size(), st.ModTime().UnixNano())
		}
	}
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(key)))
}

// Get returns the payload stored for loc if it is fresh and its fingerprint
// still matches the source.
func (c *PreviewCache) Get(loc string) ([]byte, bool) {
	payload, ok := c.get(loc)
	c.metrics.PreviewLookup(ok)
	return payload, ok
}

func (c *PreviewCache) get(loc string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[loc]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		c.removeLocked(loc)
		return nil, false
	}
	if fp := Fingerprint(loc); fp != e.fingerprint {
		c.logger.Debug("preview invalidated", "locator", loc)
		c.removeLocked(loc)
		return nil, false
	}

	env, _, err := readEnvelope(e.path)
	if err != nil {
		c.logger.Warn("preview unreadable", "locator", loc, "error", err)
		c.removeLocked(loc)
		return nil, false
	}
	e.lastAccess = c.now()
	return env.Payload, true
}

// Put stores payload (a JSON document) as the preview of loc.
func (c *PreviewCache) Put(loc string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("preview payload is not valid JSON")
	}
	now := c.now()
	env := envelope{
		Locator:     loc,
		Fingerprint: Fingerprint(loc),
		CreatedAt:   now,
		Payload:     payload,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	data := snappy.Encode(nil, raw)

	p := filepath.Join(c.dir, fmt.Sprintf("%016x%s", murmur3.Sum64([]byte(loc)), entrySuffix))
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write preview: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.index[loc]; ok {
		c.size -= old.sizeBytes
	}
	c.index[loc] = &previewEntry{
		path:        p,
		fingerprint: env.Fingerprint,
		createdAt:   now,
		lastAccess:  now,
		sizeBytes:   int64(len(data)),
	}
	c.size += int64(len(data))
	c.evictLocked(loc)
	return nil
}

// evictLocked removes least recently read entries, never keep, until the
// cache fits its budget.
func (c *PreviewCache) evictLocked(keep string) {
	if c.size <= c.maxBytes {
		return
	}
	type candidate struct {
		loc        string
		lastAccess time.Time
	}
	var cands []candidate
	for loc, e := range c.index {
		if loc != keep {
			cands = append(cands, candidate{loc, e.lastAccess})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].lastAccess.Before(cands[j].lastAccess) })
	for _, cand := range cands {
		if c.size <= c.maxBytes {
			break
		}
		c.removeLocked(cand.loc)
	}
}

func (c *PreviewCache) removeLocked(loc string) {
	e, ok := c.index[loc]
	if !ok {
		return
	}
	os.Remove(e.path)
	delete(c.index, loc)
	c.size -= e.sizeBytes
}

// Remove drops the preview of loc.
func (c *PreviewCache) Remove(loc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(loc)
}

// Clear drops every preview.
func (c *PreviewCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for loc := range c.index {
		c.removeLocked(loc)
	}
}

// Len returns the number of entries.
func (c *PreviewCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Size returns the total on-disk size in bytes.
func (c *PreviewCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func readEnvelope(p string) (*envelope, int64, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, 0, err
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, 0, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, err
	}
	return &env, int64(len(data)), nil
}
