// Package main implements certsearch-query, a one-shot command line search
// over a single dataset file. It prints a page as JSON or exports every
// match as CSV.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/datapage/certsearch/internal/config"
	"github.com/datapage/certsearch/internal/engine"
	"github.com/datapage/certsearch/internal/export"
	"github.com/datapage/certsearch/internal/observability"
	"github.com/datapage/certsearch/internal/query/compiler"
	"github.com/datapage/certsearch/internal/query/planner"
)

type options struct {
	locator     string
	keyword     string
	searchField string
	dateFrom    string
	dateTo      string
	exclude     string
	page        int
	limit       int
	csv         bool
	info        bool
	fields      string
	caseFile    string
	logLevel    string
}

func main() {
	opts := parseFlags()
	logger := observability.InitLogger(opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defaults := config.DefaultConfig()
	cfg := engine.DefaultConfig()
	cfg.Pool.MemoryLimit = defaults.DuckDB.MemoryLimit
	cfg.Pool.MaxMemory = defaults.DuckDB.MaxMemory
	cfg.Pool.TempDirectory = os.TempDir()
	if opts.caseFile != "" {
		cfg.CasePolicy = planner.LoadCasePolicy(opts.caseFile, logger)
	}
	eng := engine.New(cfg, logger, nil)
	defer eng.Close()

	if err := run(ctx, eng, opts); err != nil {
		fmt.Fprintf(os.Stderr, "certsearch-query: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, eng *engine.Engine, opts options) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if opts.info {
		fi, err := eng.FileInfo(ctx, opts.locator)
		if err != nil {
			return err
		}
		return enc.Encode(fi)
	}

	var filters *compiler.Filters
	if opts.dateFrom != "" || opts.dateTo != "" || opts.exclude != "" {
		filters = &compiler.Filters{}
		if opts.dateFrom != "" || opts.dateTo != "" {
			filters.DateRange = &compiler.DateRange{Start: opts.dateFrom, End: opts.dateTo}
		}
		if opts.exclude != "" {
			filters.ExcludeKeywords = splitList(opts.exclude)
		}
	}

	if opts.csv {
		fields := splitList(opts.fields)
		sink := export.NewCSVSink(os.Stdout, fields)
		res, err := eng.StreamAll(ctx, engine.StreamRequest{
			Locator:        opts.locator,
			Keyword:        opts.keyword,
			SearchField:    opts.searchField,
			Filters:        filters,
			RequiredFields: fields,
		}, sink.Write)
		if err != nil {
			return err
		}
		if err := sink.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d rows exported in %dms\n", res.TotalCount, res.Stats.ProcessingTimeMs)
		return nil
	}

	res, err := eng.Search(ctx, engine.SearchRequest{
		Locator:       opts.locator,
		Keyword:       opts.keyword,
		SearchField:   opts.searchField,
		Filters:       filters,
		DisplayFields: splitList(opts.fields),
		Page:          opts.page,
		Limit:         opts.limit,
	})
	if err != nil {
		return err
	}
	return enc.Encode(res)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.locator, "file", "", "Dataset locator: local path or http(s)/r2/s3 URL (required)")
	flag.StringVar(&opts.keyword, "keyword", "", "Search keyword")
	flag.StringVar(&opts.searchField, "field", "product_name", "Logical search field")
	flag.StringVar(&opts.dateFrom, "date-from", "", "Earliest certification date (YYYY-MM-DD)")
	flag.StringVar(&opts.dateTo, "date-to", "", "Latest certification date (YYYY-MM-DD)")
	flag.StringVar(&opts.exclude, "exclude", "", "Comma separated keywords to exclude")
	flag.IntVar(&opts.page, "page", 1, "Page number")
	flag.IntVar(&opts.limit, "limit", 20, "Rows per page")
	flag.BoolVar(&opts.csv, "csv", false, "Export every match as CSV to stdout")
	flag.BoolVar(&opts.info, "info", false, "Print file metadata and a sample instead of searching")
	flag.StringVar(&opts.fields, "columns", "", "Comma separated output columns")
	flag.StringVar(&opts.caseFile, "case-sensitivity", "", "Path to the case sensitivity policy file")
	flag.StringVar(&opts.logLevel, "log-level", "WARN", "Log level")
	flag.Parse()

	if opts.locator == "" {
		flag.Usage()
		os.Exit(2)
	}
	return opts
}
