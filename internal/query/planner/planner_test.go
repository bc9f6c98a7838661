package planner

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSearchColumns(t *testing.T) {
	testCases := []struct {
		name      string
		field     string
		available []string
		expected  []string
	}{
		{"korean company column", FieldCompanyName, []string{"업체명", "제품명"}, []string{"업체명"}},
		{"several aliases keep alias order", FieldCompanyName, []string{"사업자명", "maker_name", "x"}, []string{"maker_name", "사업자명"}},
		{"model name", FieldModelName, []string{"model_name"}, []string{"model_name"}},
		{"product aliases", FieldProductName, []string{"품목명", "prductNm"}, []string{"prductNm", "품목명"}},
		{"raw field fallback", "인증번호", []string{"인증번호", "업체명"}, []string{"인증번호"}},
		{"nothing resolves", FieldModelName, []string{"업체명"}, nil},
		{"empty field", "", []string{"업체명"}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ResolveSearchColumns(tc.field, tc.available))
		})
	}
}

func TestAliases_ReturnsCopy(t *testing.T) {
	a := Aliases(FieldCompanyName)
	require.NotEmpty(t, a)
	a[0] = "mutated"
	assert.Equal(t, "업체명", Aliases(FieldCompanyName)[0])
	assert.Nil(t, Aliases("anything"))
	assert.True(t, IsLogicalField(FieldProductName))
	assert.False(t, IsLogicalField("cert_no"))
}

// TestProperty_AliasResolution checks that the resolved columns are exactly
// the aliases present in the schema.
func TestProperty_AliasResolution(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	fields := []string{FieldCompanyName, FieldModelName, FieldProductName}
	noise := []string{"인증번호", "cert_date", "price", "기자재명칭"}

	properties.Property("resolves exactly the present aliases", prop.ForAll(
		func(fieldIdx int, mask uint16, noiseMask uint8) bool {
			field := fields[fieldIdx]
			aliases := fieldAliases[field]

			var available, want []string
			for i, a := range aliases {
				if mask&(1<<uint(i)) != 0 {
					available = append(available, a)
					want = append(want, a)
				}
			}
			for i, n := range noise {
				if noiseMask&(1<<uint(i)) != 0 {
					available = append(available, n)
				}
			}

			got := ResolveSearchColumns(field, available)
			if len(want) == 0 {
				// Only the raw field name can come back, and only if present.
				for _, c := range got {
					if c != field {
						return false
					}
				}
				return true
			}
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(fields)-1),
		gen.UInt16(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestCasePolicy_Default(t *testing.T) {
	p := DefaultCasePolicy()
	assert.True(t, p.IsCaseInsensitive("업체명"))
	assert.True(t, p.IsCaseInsensitive("product_name"))
	assert.False(t, p.IsCaseInsensitive("모델명"))
	assert.False(t, p.IsCaseInsensitive("certification_no"))
	assert.False(t, p.IsCaseInsensitive("unlisted"))

	var nilPolicy *CasePolicy
	assert.False(t, nilPolicy.IsCaseInsensitive("업체명"))
}

func TestLoadCasePolicy(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(dir, "case.yaml")
		content := "case_insensitive_fields:\n  모델명: true\ndefault_case_insensitive: true\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		p := LoadCasePolicy(path, logger)
		assert.True(t, p.IsCaseInsensitive("모델명"))
		assert.True(t, p.IsCaseInsensitive("anything"))
	})

	t.Run("json sensitive list", func(t *testing.T) {
		path := filepath.Join(dir, "case.json")
		content := `{"case_sensitive_fields": {"업체명": true}, "default_case_insensitive": true}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		p := LoadCasePolicy(path, logger)
		assert.False(t, p.IsCaseInsensitive("업체명"))
		assert.True(t, p.IsCaseInsensitive("제품명"))
	})

	t.Run("missing file falls back", func(t *testing.T) {
		logs.Reset()
		p := LoadCasePolicy(filepath.Join(dir, "nope.json"), logger)
		assert.True(t, p.IsCaseInsensitive("company_name"))
		assert.Contains(t, logs.String(), "using defaults")
	})

	t.Run("invalid file falls back", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
		p := LoadCasePolicy(path, logger)
		assert.False(t, p.IsCaseInsensitive("model_name"))
	})
}

func TestBuildProjection(t *testing.T) {
	schema := []string{"업체명", "제품명", "모델명", "인증번호", "인증일자", "cert_date", "price"}

	t.Run("union in first-seen order", func(t *testing.T) {
		p := BuildProjection(ProjectionInput{
			SearchFields:   []string{"업체명", "모델명"},
			DisplayFields:  []string{"제품명", "업체명"},
			RequiredFields: []string{"인증번호"},
			DynamicFields:  []string{"인증일자", "모델명"},
		}, schema, nil)
		require.False(t, p.Wildcard)
		assert.Equal(t, []string{"업체명", "모델명", "제품명", "cert_date", "인증번호", "인증일자"}, p.Columns)
		assert.Equal(t, `"업체명", "모델명", "제품명", "cert_date", "인증번호", "인증일자"`, p.SQL())
	})

	t.Run("missing fields logged", func(t *testing.T) {
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		p := BuildProjection(ProjectionInput{
			DisplayFields: []string{"업체명", "발급기관"},
		}, schema, logger)
		assert.Equal(t, []string{"발급기관"}, p.Missing)
		assert.Contains(t, logs.String(), "configured fields missing from schema")
		assert.Equal(t, []string{"업체명", "cert_date"}, p.Columns)
	})

	t.Run("nothing intersects", func(t *testing.T) {
		p := BuildProjection(ProjectionInput{DisplayFields: []string{"a", "b"}}, []string{"x"}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		assert.True(t, p.Wildcard)
		assert.Equal(t, "*", p.SQL())
	})

	t.Run("unknown schema", func(t *testing.T) {
		p := BuildProjection(ProjectionInput{DisplayFields: []string{"업체명"}}, nil, nil)
		assert.True(t, p.Wildcard)
	})

	t.Run("no configuration", func(t *testing.T) {
		p := BuildProjection(ProjectionInput{DynamicFields: []string{"업체명"}}, schema, nil)
		assert.True(t, p.Wildcard)
	})
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"상호/법인명"`, QuoteIdent("상호/법인명"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func TestFirstAndAllPresent(t *testing.T) {
	col, ok := FirstPresent([]string{"완료일", "인증일자"}, []string{"인증일자", "완료일"})
	assert.True(t, ok)
	assert.Equal(t, "완료일", col)

	_, ok = FirstPresent([]string{"x"}, nil)
	assert.False(t, ok)

	assert.Equal(t, []string{"b", "c"}, AllPresent([]string{"a", "b", "c"}, []string{"c", "b"}))
}
