package schema

import (
	"reflect"
	"testing"

	"github.com/datapage/certsearch/internal/locator"
)

func TestIsVolatile(t *testing.T) {
	tests := []struct {
		loc  string
		want bool
	}{
		{"3_efficiency_flattened.parquet", true},
		{"https://cdn.example.com/x/4_high_efficiency_flattened_success.parquet", true},
		{"/data/5_standby_power_flattened_failed.parquet", true},
		{"https://cdn.example.com/x/5_standby_power_flattened.parquet?v=3", true},
		{"https://cdn.example.com/x/1_safetykorea_flattened.parquet", false},
		{"/data/13_efficiency_flattened.parquet", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsVolatile(tt.loc); got != tt.want {
			t.Errorf("IsVolatile(%q) = %v, want %v", tt.loc, got, tt.want)
		}
	}
}

func TestAliasCandidates(t *testing.T) {
	tests := []struct {
		name string
		loc  string
		want []string
	}{
		{
			name: "longest pattern wins over prefix",
			loc:  "https://a.blob.example.com/high_efficiency.duckdb",
			want: []string{"4_high_efficiency_flattened.parquet"},
		},
		{
			name: "child dataset not shadowed by safetykorea",
			loc:  "https://a.blob.example.com/safetykoreachild_2025.duckdb",
			want: []string{"10_safetykoreachild_flattened.parquet"},
		},
		{
			name: "enhanced success snapshot first",
			loc:  "https://a.blob.example.com/wadiz_enhanced_success.duckdb",
			want: []string{"2_wadiz_flattened_success.parquet", "2_wadiz_flattened.parquet"},
		},
		{
			name: "failed snapshot first",
			loc:  "https://a.blob.example.com/recall_failed.duckdb",
			want: []string{"9_recall_flattened_failed.parquet", "9_recall_flattened.parquet"},
		},
		{
			name: "secondary pattern",
			loc:  "https://a.blob.example.com/energy-2025.duckdb",
			want: []string{"3_efficiency_flattened.parquet"},
		},
		{
			name: "not a blob locator",
			loc:  "https://cdn.example.com/recall.duckdb",
			want: nil,
		},
		{
			name: "not an embedded database",
			loc:  "https://a.blob.example.com/recall.parquet",
			want: nil,
		},
		{
			name: "no dataset pattern",
			loc:  "https://a.blob.example.com/misc.duckdb",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := aliasCandidates(tt.loc, locator.FileName(tt.loc))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("aliasCandidates = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCache_PutSkipsEmpty(t *testing.T) {
	c := NewCache(0, 0)
	c.Put("/a.parquet", "a.parquet", nil)
	if _, ok := c.ByLocator("/a.parquet"); ok {
		t.Error("empty column list should not be cached")
	}
	c.Put("/a.parquet", "a.parquet", []string{"x"})
	if cols, ok := c.ByFile("a.parquet"); !ok || cols[0] != "x" {
		t.Errorf("by file = %v, %v", cols, ok)
	}
	c.Purge()
	if l, f := c.Len(); l != 0 || f != 0 {
		t.Errorf("after purge: %d/%d", l, f)
	}
}

func TestCache_BoundedSize(t *testing.T) {
	c := NewCache(2, 0)
	c.Put("/a", "a", []string{"x"})
	c.Put("/b", "b", []string{"x"})
	c.Put("/c", "c", []string{"x"})
	if l, _ := c.Len(); l != 2 {
		t.Errorf("len = %d, want 2", l)
	}
	if _, ok := c.ByLocator("/a"); ok {
		t.Error("oldest entry should be evicted")
	}
}
