// Package main implements the certsearch service binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datapage/certsearch/internal/app"
	"github.com/datapage/certsearch/internal/config"
	"github.com/datapage/certsearch/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile    string
		dataDir       string
		addr          string
		fieldSettings string
		logLevel      string
		showVersion   bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for temp and cache files")
	flag.StringVar(&addr, "addr", "", "HTTP listen address")
	flag.StringVar(&fieldSettings, "field-settings", "", "Path to the dataset field settings")
	flag.StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "certsearch - keyword search over certification datasets\n\n")
		fmt.Fprintf(os.Stderr, "Usage: certsearch [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CERTSEARCH_FIELD_SETTINGS   Dataset field settings file\n")
		fmt.Fprintf(os.Stderr, "  CERTSEARCH_BASE_URL         Base URL for relative data files\n")
		fmt.Fprintf(os.Stderr, "  CERTSEARCH_STORAGE_TYPE     Object storage (none, local, s3)\n")
		fmt.Fprintf(os.Stderr, "  DUCKDB_MEMORY_LIMIT         Engine memory limit (e.g. 512MB)\n")
		fmt.Fprintf(os.Stderr, "  DUCKDB_MAX_MEMORY           Engine max memory (e.g. 640MB)\n")
		fmt.Fprintf(os.Stderr, "  R2_ACCOUNT_ID, R2_BUCKET_NAME  Cloudflare R2 object storage\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("certsearch version %s (commit: %s)\n", version, commit)
		return
	}

	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if fieldSettings != "" {
		cfg.Catalog.FieldSettingsPath = fieldSettings
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := observability.InitLogger(cfg.Logging.Level)
	logger.Info("starting certsearch", "version", version, "commit", commit, "addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
