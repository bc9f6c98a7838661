// Package config provides configuration for the certsearch service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine memory defaults, used when DUCKDB_MEMORY_LIMIT / DUCKDB_MAX_MEMORY are
// unset or unparseable.
const (
	DefaultMemoryLimit = "512MB"
	DefaultMaxMemory   = "640MB"
)

// DefaultDuckDBCacheDir is where remote embedded-database files are materialized.
const DefaultDuckDBCacheDir = "/tmp/datapage_duckdb_cache"

// Config holds the configuration for the certsearch service.
type Config struct {
	// DataDir is the base directory for temp and cache files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	DuckDB  DuckDBConfig  `json:"duckdb" yaml:"duckdb"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// RateLimitRPS is the per-client request rate; zero disables limiting
	RateLimitRPS   float64 `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// DuckDBConfig holds session settings applied to every engine connection.
type DuckDBConfig struct {
	MemoryLimit   string `json:"memory_limit" yaml:"memory_limit"`
	MaxMemory     string `json:"max_memory" yaml:"max_memory"`
	TempDirectory string `json:"temp_directory" yaml:"temp_directory"`
	Threads       int    `json:"threads" yaml:"threads"`

	// EnableHTTPFS controls the best-effort load of the httpfs extension
	EnableHTTPFS  bool   `json:"enable_httpfs" yaml:"enable_httpfs"`
	HomeDirectory string `json:"home_directory" yaml:"home_directory"`

	FetchBatchSize int `json:"fetch_batch_size" yaml:"fetch_batch_size"`
}

// CacheConfig holds schema, materialization and preview cache settings.
type CacheConfig struct {
	DuckDBCacheDir string `json:"duckdb_cache_dir" yaml:"duckdb_cache_dir"`

	// SchemaCacheSize of 0 means unbounded; SchemaCacheTTL of 0 means no expiry
	SchemaCacheSize int           `json:"schema_cache_size" yaml:"schema_cache_size"`
	SchemaCacheTTL  time.Duration `json:"schema_cache_ttl" yaml:"schema_cache_ttl"`

	PreviewDir      string        `json:"preview_dir" yaml:"preview_dir"`
	PreviewTTL      time.Duration `json:"preview_ttl" yaml:"preview_ttl"`
	PreviewMaxBytes int64         `json:"preview_max_bytes" yaml:"preview_max_bytes"`
	PreviewRows     int           `json:"preview_rows" yaml:"preview_rows"`

	PrefetchConcurrency int `json:"prefetch_concurrency" yaml:"prefetch_concurrency"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 (or R2) storage configuration.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// AccountID is a Cloudflare R2 account; it implies the endpoint when none is set
	AccountID    string `json:"account_id" yaml:"account_id"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// CatalogConfig locates the dataset catalog and field policies.
type CatalogConfig struct {
	FieldSettingsPath   string `json:"field_settings_path" yaml:"field_settings_path"`
	BaseURL             string `json:"base_url" yaml:"base_url"`
	BaseDir             string `json:"base_dir" yaml:"base_dir"`
	CaseSensitivityPath string `json:"case_sensitivity_path" yaml:"case_sensitivity_path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/certsearch",
		HTTP: HTTPConfig{
			Addr:           ":8000",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   10 * time.Minute,
			IdleTimeout:    120 * time.Second,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		DuckDB: DuckDBConfig{
			MemoryLimit:    NormalizeMemorySetting(os.Getenv("DUCKDB_MEMORY_LIMIT"), DefaultMemoryLimit),
			MaxMemory:      NormalizeMemorySetting(os.Getenv("DUCKDB_MAX_MEMORY"), DefaultMaxMemory),
			Threads:        2,
			EnableHTTPFS:   true,
			FetchBatchSize: 1000,
		},
		Cache: CacheConfig{
			DuckDBCacheDir:      DefaultDuckDBCacheDir,
			PreviewTTL:          24 * time.Hour,
			PreviewMaxBytes:     256 * 1024 * 1024,
			PreviewRows:         100,
			PrefetchConcurrency: 4,
		},
		Storage: StorageConfig{
			Type: "none",
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/certsearch"
	}
	if c.DuckDB.TempDirectory == "" {
		c.DuckDB.TempDirectory = filepath.Join(c.DataDir, "duckdb_tmp")
	}
	if c.DuckDB.HomeDirectory == "" {
		c.DuckDB.HomeDirectory = filepath.Join(c.DataDir, "duckdb_home")
	}
	if c.DuckDB.FetchBatchSize <= 0 {
		c.DuckDB.FetchBatchSize = 1000
	}
	if c.DuckDB.Threads <= 0 {
		c.DuckDB.Threads = 2
	}
	if c.Cache.DuckDBCacheDir == "" {
		c.Cache.DuckDBCacheDir = DefaultDuckDBCacheDir
	}
	if c.Cache.PreviewDir == "" {
		c.Cache.PreviewDir = filepath.Join(c.DataDir, "preview_cache")
	}
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Storage.S3.Endpoint == "" && c.Storage.S3.AccountID != "" {
		c.Storage.S3.Endpoint = R2Endpoint(c.Storage.S3.AccountID)
	}
	if c.Storage.S3.Endpoint != "" && c.Storage.S3.Region == "" {
		// R2 accepts any region; the SDK requires one.
		c.Storage.S3.Region = "auto"
	}
}

// R2Endpoint returns the S3-compatible endpoint of a Cloudflare R2 account.
func R2Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Storage.Type {
	case "none", "local", "s3":
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.DuckDB.Threads < 1 || c.DuckDB.Threads > 64 {
		return fmt.Errorf("duckdb.threads must be between 1 and 64, got %d", c.DuckDB.Threads)
	}

	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must not be negative")
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// NormalizeMemorySetting turns a user-supplied memory size into a value the
// engine accepts. Values ending in MB or GB are kept, bare integers are read
// as megabytes, and anything else yields fallback.
func NormalizeMemorySetting(value, fallback string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	upper := strings.ToUpper(v)
	if strings.HasSuffix(upper, "MB") || strings.HasSuffix(upper, "GB") {
		return v
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return v + "MB"
	}
	return fallback
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Service variables use the CERTSEARCH_ prefix; the engine memory and R2
// variables keep their established unprefixed names.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CERTSEARCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CERTSEARCH_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CERTSEARCH_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HTTP.RateLimitRPS = f
		}
	}
	if v := os.Getenv("CERTSEARCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Engine configuration
	if v, ok := os.LookupEnv("DUCKDB_MEMORY_LIMIT"); ok {
		cfg.DuckDB.MemoryLimit = NormalizeMemorySetting(v, DefaultMemoryLimit)
	}
	if v, ok := os.LookupEnv("DUCKDB_MAX_MEMORY"); ok {
		cfg.DuckDB.MaxMemory = NormalizeMemorySetting(v, DefaultMaxMemory)
	}
	if v := os.Getenv("CERTSEARCH_DUCKDB_THREADS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.DuckDB.Threads)
	}
	if v := os.Getenv("CERTSEARCH_DUCKDB_ENABLE_HTTPFS"); v != "" {
		cfg.DuckDB.EnableHTTPFS = v == "true" || v == "1"
	}
	if v := os.Getenv("CERTSEARCH_DUCKDB_CACHE_DIR"); v != "" {
		cfg.Cache.DuckDBCacheDir = v
	}

	// Catalog configuration
	if v := os.Getenv("CERTSEARCH_FIELD_SETTINGS"); v != "" {
		cfg.Catalog.FieldSettingsPath = v
	}
	if v := os.Getenv("CERTSEARCH_BASE_URL"); v != "" {
		cfg.Catalog.BaseURL = v
	}
	if v := os.Getenv("CERTSEARCH_BASE_DIR"); v != "" {
		cfg.Catalog.BaseDir = v
	}
	if v := os.Getenv("CERTSEARCH_CASE_SENSITIVITY"); v != "" {
		cfg.Catalog.CaseSensitivityPath = v
	}

	// Storage configuration
	if v := os.Getenv("CERTSEARCH_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CERTSEARCH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("R2_ACCOUNT_ID"); v != "" {
		cfg.Storage.S3.AccountID = v
	}
	if v := os.Getenv("R2_BUCKET_NAME"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("R2_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("CERTSEARCH_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("CERTSEARCH_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("CERTSEARCH_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.DuckDB.TempDirectory,
		c.DuckDB.HomeDirectory,
		c.Cache.DuckDBCacheDir,
		c.Cache.PreviewDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
