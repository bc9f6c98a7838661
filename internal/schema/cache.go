package schema

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache holds column lists under two keys: the full locator and the bare
// file name, so a dataset moved to a new URL still hits.
// A size of 0 means unbounded and a ttl of 0 means entries never expire.
type Cache struct {
	byLocator *expirable.LRU[string, []string]
	byFile    *expirable.LRU[string, []string]
}

// NewCache creates an empty cache.
func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{
		byLocator: expirable.NewLRU[string, []string](size, nil, ttl),
		byFile:    expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

// ByLocator returns the columns cached for locator.
func (c *Cache) ByLocator(locator string) ([]string, bool) {
	return c.byLocator.Get(locator)
}

// ByFile returns the columns cached for a bare file name.
func (c *Cache) ByFile(fileName string) ([]string, bool) {
	if fileName == "" {
		return nil, false
	}
	return c.byFile.Get(fileName)
}

// Put stores columns under locator and, when known, fileName.
// Empty column lists are never stored.
func (c *Cache) Put(locator, fileName string, columns []string) {
	if len(columns) == 0 {
		return
	}
	cols := append([]string(nil), columns...)
	c.byLocator.Add(locator, cols)
	if fileName != "" {
		c.byFile.Add(fileName, cols)
	}
}

// Purge clears both keys.
func (c *Cache) Purge() {
	c.byLocator.Purge()
	c.byFile.Purge()
}

// Len returns the number of entries under each key.
func (c *Cache) Len() (byLocator, byFile int) {
	return c.byLocator.Len(), c.byFile.Len()
}
