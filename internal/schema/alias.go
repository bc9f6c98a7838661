package schema

import (
	"fmt"
	"sort"
	"strings"
)

// blobDataset ties a logical dataset to its numbered snapshot file and the
// substrings that identify it inside an object-store file name.
type blobDataset struct {
	name     string
	number   int
	patterns []string
}

var blobDatasets = []blobDataset{
	{"safetykorea", 1, []string{"safetykorea", "safety_korea"}},
	{"wadiz", 2, []string{"wadiz", "makers"}},
	{"efficiency", 3, []string{"efficiency", "energy"}},
	{"high_efficiency", 4, []string{"high_efficiency", "high-efficiency"}},
	{"standby_power", 5, []string{"standby_power", "standby-power"}},
	{"approval", 6, []string{"approval", "approve"}},
	{"declare", 7, []string{"declare", "declaration"}},
	{"kwtc", 8, []string{"kwtc"}},
	{"recall", 9, []string{"recall"}},
	{"safetykoreachild", 10, []string{"safetykoreachild", "safety_korea_child", "child"}},
	{"rra_cert", 11, []string{"rra_cert", "rra-cert"}},
	{"rra_self_cert", 12, []string{"rra_self_cert", "rra-self-cert"}},
	{"safetykoreahome", 13, []string{"safetykoreahome", "safety_korea_home", "home"}},
}

type blobPattern struct {
	pattern string
	dataset *blobDataset
}

// blobPatterns is every pattern, longest first, so "high_efficiency" wins
// over "efficiency" and "safetykoreachild" over "safetykorea".
var blobPatterns = buildBlobPatterns()

func buildBlobPatterns() []blobPattern {
	var out []blobPattern
	for i := range blobDatasets {
		for _, p := range blobDatasets[i].patterns {
			out = append(out, blobPattern{pattern: p, dataset: &blobDatasets[i]})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return len(out[a].pattern) > len(out[b].pattern)
	})
	return out
}

// isBlobLocator reports whether locator is an object-store embedded database
// eligible for schema aliasing.
func isBlobLocator(locator string) bool {
	lower := strings.ToLower(locator)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".duckdb") && strings.Contains(lower, "blob")
}

// matchBlobDataset returns the dataset whose pattern occurs in fileName.
func matchBlobDataset(fileName string) (*blobDataset, bool) {
	lower := strings.ToLower(fileName)
	for _, p := range blobPatterns {
		if strings.Contains(lower, p.pattern) {
			return p.dataset, true
		}
	}
	return nil, false
}

// aliasCandidates returns, in lookup order, the snapshot file names whose
// cached schema may stand in for the blob file fileName.
func aliasCandidates(locator, fileName string) []string {
	if fileName == "" || !isBlobLocator(locator) {
		return nil
	}
	ds, ok := matchBlobDataset(fileName)
	if !ok {
		return nil
	}

	lower := strings.ToLower(fileName)
	base := fmt.Sprintf("%d_%s_flattened", ds.number, ds.name)

	var out []string
	switch {
	case strings.Contains(lower, "failed"):
		out = append(out, base+"_failed.parquet")
	case strings.Contains(lower, "success"), strings.Contains(lower, "enhanced"):
		out = append(out, base+"_success.parquet")
	}
	return append(out, base+".parquet")
}
