package locator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIntrospect_Remote(t *testing.T) {
	tests := []struct {
		raw      string
		kind     Kind
		embedded bool
		store    bool
	}{
		{"https://cdn.example.com/data/1_safetykorea_flattened.parquet", KindParquet, false, false},
		{"https://blob.example.com/certs/safetykorea_blob.duckdb?sig=abc", KindEmbeddedDB, true, false},
		{"http://host/x.JSON", KindJSON, false, false},
		{"s3://bucket/path/file.duckdb", KindEmbeddedDB, true, true},
		{"r2://datasets/file.parquet", KindParquet, false, true},
		{"https://host/download", KindUnknown, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			info := Introspect(tt.raw)
			if !info.IsRemote {
				t.Error("expected remote")
			}
			if info.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", info.Kind, tt.kind)
			}
			if info.IsEmbeddedDatabase != tt.embedded {
				t.Errorf("embedded = %v", info.IsEmbeddedDatabase)
			}
			if info.IsObjectStore() != tt.store {
				t.Errorf("object store = %v", info.IsObjectStore())
			}
			if info.EstimatedSizeMB != RemoteEstimateMB {
				t.Errorf("size = %v", info.EstimatedSizeMB)
			}
		})
	}
}

func TestIntrospect_Local(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.parquet")
	if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatal(err)
	}

	info := Introspect(path)
	if info.IsRemote {
		t.Error("expected local")
	}
	if info.Kind != KindParquet {
		t.Errorf("kind = %v", info.Kind)
	}
	if info.EstimatedSizeMB != 2 {
		t.Errorf("size = %v, want 2", info.EstimatedSizeMB)
	}
	if info.FileName != "data.parquet" {
		t.Errorf("file name = %s", info.FileName)
	}
}

func TestIntrospect_MissingLocalFile(t *testing.T) {
	info := Introspect(filepath.Join(t.TempDir(), "gone.duckdb"))
	if info.EstimatedSizeMB != 0 {
		t.Errorf("size = %v, want 0", info.EstimatedSizeMB)
	}
	if !info.IsEmbeddedDatabase {
		t.Error("expected embedded database")
	}
}

func TestTabularPath(t *testing.T) {
	dir := t.TempDir()
	withSibling := filepath.Join(dir, "a.json")
	if err := os.WriteFile(filepath.Join(dir, "a.parquet"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		raw  string
		want string
	}{
		{withSibling, filepath.Join(dir, "a.parquet")},
		{filepath.Join(dir, "b.json"), ""},
		{"https://host/c.json", "https://host/c.parquet"},
		{"https://host/c.json?v=2", "https://host/c.parquet?v=2"},
		{"https://host/d.duckdb", "https://host/d.duckdb"},
		{"https://host/e.csv", ""},
	}
	for _, tt := range tests {
		info := Introspect(tt.raw)
		if got := info.TabularPath(); got != tt.want {
			t.Errorf("TabularPath(%s) = %q, want %q", tt.raw, got, tt.want)
		}
		if info.IsTabular() != (tt.want != "") {
			t.Errorf("IsTabular(%s) = %v", tt.raw, info.IsTabular())
		}
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"https://host/a/b/3_efficiency_flattened.parquet", "3_efficiency_flattened.parquet"},
		{"https://host/a/b.parquet?x=1", "b.parquet"},
		{"/data/x/1_safetykorea_flattened.parquet", "1_safetykorea_flattened.parquet"},
		{"r2://bucket-less/key.duckdb", "key.duckdb"},
		{"https://host/", ""},
	}
	for _, tt := range tests {
		if got := FileName(tt.raw); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	s3 := Introspect("s3://certs/exports/a.duckdb")
	if s3.ObjectKey() != "exports/a.duckdb" || s3.Bucket() != "certs" {
		t.Errorf("s3 key=%q bucket=%q", s3.ObjectKey(), s3.Bucket())
	}
	r2 := Introspect("r2://exports/a.duckdb")
	if r2.ObjectKey() != "exports/a.duckdb" {
		t.Errorf("r2 key=%q", r2.ObjectKey())
	}
	if Introspect("https://h/a.duckdb").ObjectKey() != "" {
		t.Error("http locator has no object key")
	}
}

func TestKindString(t *testing.T) {
	if KindEmbeddedDB.String() != "duckdb" || KindUnknown.String() != "unknown" {
		t.Error("unexpected kind names")
	}
}
