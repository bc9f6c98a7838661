// Package locator classifies dataset locators (URLs, object-store keys and
// filesystem paths) without performing any I/O beyond a local stat.
package locator

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// RemoteEstimateMB is the size assumed for remote locators, whose exact size
// is not cheaply obtainable.
const RemoteEstimateMB = 100.0

// Kind is the physical format of a dataset.
type Kind int

const (
	KindUnknown Kind = iota
	KindParquet
	KindEmbeddedDB
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindParquet:
		return "parquet"
	case KindEmbeddedDB:
		return "duckdb"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

const (
	suffixParquet = ".parquet"
	suffixDuckDB  = ".duckdb"
	suffixJSON    = ".json"
)

// Info describes a locator. It is immutable once built.
type Info struct {
	Raw                string
	IsRemote           bool
	IsEmbeddedDatabase bool
	Kind               Kind
	EstimatedSizeMB    float64
	FileName           string
	scheme             string
}

// Introspect classifies raw. It never fails: unreadable local files report
// zero size and the real error surfaces at query time.
func Introspect(raw string) Info {
	info := Info{Raw: raw}
	if raw == "" {
		return info
	}

	scheme, p := split(raw)
	info.scheme = scheme
	info.IsRemote = isRemoteScheme(scheme)
	info.FileName = FileName(raw)
	info.Kind = kindOf(p)
	info.IsEmbeddedDatabase = info.Kind == KindEmbeddedDB

	if info.IsRemote {
		info.EstimatedSizeMB = RemoteEstimateMB
	} else if st, err := os.Stat(raw); err == nil {
		info.EstimatedSizeMB = float64(st.Size()) / (1024 * 1024)
	}
	return info
}

// IsObjectStore reports whether the locator addresses the configured object
// store (s3:// or r2://) rather than a plain URL.
func (i Info) IsObjectStore() bool {
	return i.scheme == "s3" || i.scheme == "r2"
}

// IsHTTP reports whether the locator is an http(s) URL.
func (i Info) IsHTTP() bool {
	return i.scheme == "http" || i.scheme == "https"
}

// ObjectKey returns the object key for object-store locators. For
// s3://bucket/key the bucket is dropped; r2://key keeps the whole path.
func (i Info) ObjectKey() string {
	if !i.IsObjectStore() {
		return ""
	}
	u, err := url.Parse(i.Raw)
	if err != nil {
		return ""
	}
	if i.scheme == "s3" {
		return strings.TrimPrefix(u.Path, "/")
	}
	return strings.TrimPrefix(u.Host+u.Path, "/")
}

// Bucket returns the bucket named in an s3:// locator.
func (i Info) Bucket() string {
	if i.scheme != "s3" {
		return ""
	}
	u, err := url.Parse(i.Raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// IsTabular reports whether the locator can be queried as a relation.
func (i Info) IsTabular() bool {
	return i.TabularPath() != ""
}

// TabularPath returns the locator to read as a relation. JSON locators are
// redirected to their parquet sibling; for local files the sibling must exist.
func (i Info) TabularPath() string {
	switch i.Kind {
	case KindParquet, KindEmbeddedDB:
		return i.Raw
	case KindJSON:
		candidate := replaceSuffix(i.Raw, suffixJSON, suffixParquet)
		if i.IsRemote {
			return candidate
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// FileName extracts the bare file name from a URL or a filesystem path.
func FileName(raw string) string {
	if raw == "" {
		return ""
	}
	scheme, p := split(raw)
	if scheme != "" {
		if p == "" || strings.HasSuffix(p, "/") {
			return ""
		}
		return path.Base(p)
	}
	base := filepath.Base(raw)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

func split(raw string) (scheme, p string) {
	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return "", raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw[:idx]), raw[idx+3:]
	}
	scheme = strings.ToLower(u.Scheme)
	if scheme == "r2" {
		return scheme, "/" + u.Host + u.Path
	}
	return scheme, u.Path
}

func isRemoteScheme(scheme string) bool {
	switch scheme {
	case "http", "https", "s3", "r2":
		return true
	}
	return false
}

func kindOf(p string) Kind {
	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, suffixDuckDB):
		return KindEmbeddedDB
	case strings.HasSuffix(lower, suffixParquet):
		return KindParquet
	case strings.HasSuffix(lower, suffixJSON):
		return KindJSON
	}
	return KindUnknown
}

func replaceSuffix(s, old, repl string) string {
	if strings.HasSuffix(strings.ToLower(s), old) {
		return s[:len(s)-len(old)] + repl
	}
	// URL with a query string: replace within the path only.
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		if strings.HasSuffix(strings.ToLower(u.Path), old) {
			u.Path = u.Path[:len(u.Path)-len(old)] + repl
			return u.String()
		}
	}
	return s
}
