package executor

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/datapage/certsearch/internal/query/compiler"
)

// certRows is the fixture data: five "Acme" companies and two others.
const certRows = `SELECT * FROM (VALUES
	('Acme Korea', 'Widget A', '20240105', 100),
	('ACME Trading', 'Widget B', '20240210', 200),
	('acme labs', 'Gadget', '20230315', 300),
	('Acme Korea', 'Widget C', '2024-03-01', 400),
	('Beta Corp', 'Gizmo', '20220101', 500),
	('Gamma Inc', 'Acme-branded cable', '20210101', 600),
	('Acme Global', 'Dongle', NULL, 700)
) AS t(company_name, product_name, cert_date, price)`

// writeFixtures creates a parquet file and a DuckDB file holding certRows.
func writeFixtures(t *testing.T) (parquetPath, duckdbPath string) {
	t.Helper()
	dir := t.TempDir()
	parquetPath = filepath.Join(dir, "certs.parquet")
	duckdbPath = filepath.Join(dir, "certs.duckdb")

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	stmts := []string{
		"COPY (" + certRows + ") TO " + compiler.QuoteLiteral(parquetPath) + " (FORMAT PARQUET)",
		"ATTACH " + compiler.QuoteLiteral(duckdbPath) + " AS fx",
		"CREATE TABLE fx.certs AS " + certRows,
		"DETACH fx",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture %q: %v", stmt, err)
		}
	}
	return parquetPath, duckdbPath
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	cfg := DefaultPoolConfig()
	cfg.TempDirectory = t.TempDir()
	p := NewPool(cfg, nil, nil)
	t.Cleanup(func() { p.Close() })
	return p
}

// companySearch builds a plan searching company_name for keyword.
func companySearch(keyword string, page, limit int, stream bool, schema []string) PlanFunc {
	c := compiler.New(nil, nil)
	return func(rel string) (*compiler.Plan, error) {
		return c.Compile(compiler.Request{
			Relation:    rel,
			Schema:      schema,
			Keyword:     keyword,
			SearchField: "company_name",
			Page:        page,
			Limit:       limit,
			Stream:      stream,
		})
	}
}

var fixtureSchema = []string{"company_name", "product_name", "cert_date", "price"}
