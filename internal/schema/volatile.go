// Package schema resolves and caches the column layout of datasets.
package schema

import (
	"path"
	"strings"
)

// volatileDatasets change their column set between snapshots, so their
// schema is never cached.
var volatileDatasets = []string{
	"3_efficiency",
	"4_high_efficiency",
	"5_standby_power",
}

var volatileFiles = buildVolatileFiles()

func buildVolatileFiles() map[string]struct{} {
	files := make(map[string]struct{})
	for _, ds := range volatileDatasets {
		for _, suffix := range []string{"", "_success", "_failed"} {
			files[ds+"_flattened"+suffix+".parquet"] = struct{}{}
		}
	}
	return files
}

// IsVolatile reports whether locator points at a volatile-schema dataset,
// either by bare file name or by a "/<name>" suffix.
func IsVolatile(locator string) bool {
	if locator == "" {
		return false
	}
	if _, ok := volatileFiles[locator]; ok {
		return true
	}
	trimmed := locator
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if _, ok := volatileFiles[path.Base(strings.ReplaceAll(trimmed, "\\", "/"))]; ok {
		return true
	}
	for name := range volatileFiles {
		if strings.HasSuffix(locator, "/"+name) {
			return true
		}
	}
	return false
}
