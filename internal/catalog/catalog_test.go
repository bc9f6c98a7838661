package catalog

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsJSON = `{
  "dataA": {
    "safetykorea": {
      "category_info": {"display_name": "안전인증", "data_file": "./parquet/1_safetykorea_flattened.parquet"},
      "search_fields": [
        {"field": "all", "name": "전체"},
        {"field": "company_name", "name": "업체명"},
        {"field": "model_name", "name": "모델명"}
      ],
      "display_fields": [{"field": "업체명", "name": "업체명"}, {"field": "제품명", "name": "제품명"}],
      "download_fields": ["업체명", "제품명", "인증번호"]
    },
    "approval": {
      "category_info": {"display_name": "승인", "data_file": "parquet/6_approval_flattened.parquet", "locator_env": "BLOB_URL_APPROVAL"},
      "search_fields": [{"field": "company_name", "name": "업체명"}]
    }
  },
  "dataC": {
    "success": {
      "safetykorea": {
        "category_info": {"data_file": "parquet/enhanced/success/1_safetykorea_flattened_success.parquet"},
        "download_fields": ["업체명", "ftc_business_number"]
      }
    },
    "failed": {
      "safetykorea": {
        "category_info": {"locator": "https://blob.example.com/1_safetykorea_failed.duckdb"}
      }
    }
  }
}`

func TestParse_ResolvesDatasets(t *testing.T) {
	c, err := Parse([]byte(settingsJSON), Options{BaseDir: "/srv/data"})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())

	ds, err := c.Resolve("dataA", "safetykorea", "")
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/parquet/1_safetykorea_flattened.parquet", ds.Locator)
	assert.Equal(t, []string{"company_name", "model_name"}, ds.SearchFields())
	assert.Equal(t, []string{"업체명", "제품명"}, ds.DisplayFields())
	assert.Equal(t, []string{"업체명", "제품명", "인증번호"}, ds.DownloadFields)
	assert.Equal(t, "안전인증", ds.Info.DisplayName)

	ds, err = c.Resolve("dataC", "safetykorea", "success")
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/parquet/enhanced/success/1_safetykorea_flattened_success.parquet", ds.Locator)
	assert.Equal(t, "success", ds.ResultType)

	ds, err = c.Resolve("dataC", "safetykorea", "failed")
	require.NoError(t, err)
	assert.Equal(t, "https://blob.example.com/1_safetykorea_failed.duckdb", ds.Locator)
}

func TestResolve_BaseURLAndEnvOverride(t *testing.T) {
	env := map[string]string{}
	c, err := Parse([]byte(settingsJSON), Options{
		BaseURL: "https://r2.example.com/bucket/",
		Getenv:  func(k string) string { return env[k] },
	})
	require.NoError(t, err)

	ds, err := c.Resolve("dataA", "approval-details", "")
	require.NoError(t, err, "legacy subcategory name should resolve")
	assert.Equal(t, "approval", ds.Subcategory)
	assert.Equal(t, "https://r2.example.com/bucket/parquet/6_approval_flattened.parquet", ds.Locator)

	env["BLOB_URL_APPROVAL"] = " https://blob.example.com/6_approval.duckdb "
	ds, err = c.Resolve("dataA", "approval", "")
	require.NoError(t, err)
	assert.Equal(t, "https://blob.example.com/6_approval.duckdb", ds.Locator)
}

func TestResolve_NotFound(t *testing.T) {
	c, err := Parse([]byte(settingsJSON), Options{})
	require.NoError(t, err)

	for _, tc := range []struct{ category, sub, resultType string }{
		{"dataA", "missing", ""},
		{"dataZ", "safetykorea", ""},
		{"dataC", "safetykorea", ""},
		{"dataC", "safetykorea", "pending"},
	} {
		_, err := c.Resolve(tc.category, tc.sub, tc.resultType)
		assert.Equal(t, apperrors.CodeDatasetNotFound, apperrors.GetCode(err), "%+v", tc)
	}
}

func TestListAndLocators(t *testing.T) {
	c, err := Parse([]byte(settingsJSON), Options{BaseDir: "/d"})
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 4)
	assert.Equal(t, Summary{Category: "dataA", Subcategory: "approval", DisplayName: "승인"}, list[0])
	assert.Equal(t, "failed", list[2].ResultType)
	assert.Equal(t, "success", list[3].ResultType)

	locs := c.Locators()
	assert.Len(t, locs, 4)
	assert.Contains(t, locs, "/d/parquet/6_approval_flattened.parquet")
}

func TestLoad_YAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "field_settings.yaml")
	yamlDoc := `
dataB:
  wadiz-makers:
    category_info:
      data_file: parquet/2_wadiz_flattened.parquet
    search_fields:
      - field: company_name
        name: 메이커
`
	require.NoError(t, os.WriteFile(p, []byte(yamlDoc), 0644))

	c, err := Load(p, Options{BaseDir: "/d"})
	require.NoError(t, err)
	ds, err := c.Resolve("dataB", "wadiz-makers", "")
	require.NoError(t, err)
	assert.Equal(t, "/d/parquet/2_wadiz_flattened.parquet", ds.Locator)

	_, err = Load(filepath.Join(t.TempDir(), "none.json"), Options{})
	assert.Error(t, err)

	_, err = Parse([]byte("dataA: [1, 2"), Options{})
	assert.Error(t, err)
}
