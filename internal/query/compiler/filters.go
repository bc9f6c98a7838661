package compiler

import (
	"regexp"
	"strings"

	"github.com/datapage/certsearch/internal/query/planner"
)

// Filters are the optional AND-combined restrictions of a search.
type Filters struct {
	DateRange          *DateRange    `json:"date_range,omitempty"`
	CertificationTypes []string      `json:"certification_type,omitempty"`
	CompanyTypes       []string      `json:"company_type,omitempty"`
	ExcludeKeywords    []string      `json:"exclude_keywords,omitempty"`
	NumericRange       *NumericRange `json:"numeric_range,omitempty"`
}

// DateRange bounds a date column; either side may be empty.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// NumericRange bounds a numeric column; Field defaults to "price".
type NumericRange struct {
	Field string   `json:"field,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// Company types.
const (
	CompanyManufacturer = "manufacturer"
	CompanyImporter     = "importer"
)

// Column candidates per filter, in priority order.
var (
	dateFilterColumns = []string{"인증일자", "인증변경일자", "서명일자", "인증만료일자", "완료일", "등록일자", "date", "cert_date"}
	certColumns       = []string{"인증번호", "certification_no", "license_no", "cert_no", "registration_no"}
	importerColumns   = []string{"수입자", "importer", "import_company", "importerName", "수입업체"}
	productColumns    = []string{"제품명", "product_name", "prductNm", "품목명", "기자재명칭"}
	companyColumns    = []string{"업체명", "company_name", "entrprsNm", "상호/법인명", "사업자명", "maker_name"}
)

const defaultNumericField = "price"

// IsEmpty reports whether no filter is set.
func (f *Filters) IsEmpty() bool {
	return f == nil || len(f.Names()) == 0
}

// Names returns the names of the filters that are set.
func (f *Filters) Names() []string {
	if f == nil {
		return nil
	}
	var names []string
	if f.DateRange != nil && (f.DateRange.Start != "" || f.DateRange.End != "") {
		names = append(names, "date_range")
	}
	if len(f.CertificationTypes) > 0 {
		names = append(names, "certification_type")
	}
	if len(f.CompanyTypes) > 0 {
		names = append(names, "company_type")
	}
	if len(f.ExcludeKeywords) > 0 {
		names = append(names, "exclude_keywords")
	}
	if f.NumericRange != nil && (f.NumericRange.Min != nil || f.NumericRange.Max != nil) {
		names = append(names, "numeric_range")
	}
	return names
}

// buildFilters returns the filter clauses that apply to schema and the
// columns they reference. Clauses whose column is missing are skipped.
func (c *Compiler) buildFilters(f *Filters, schema []string) ([]Clause, []string) {
	if f.IsEmpty() {
		return nil, nil
	}

	var clauses []Clause
	var used []string

	if dr := f.DateRange; dr != nil && (dr.Start != "" || dr.End != "") {
		if col, ok := planner.FirstPresent(dateFilterColumns, schema); ok {
			expr := "CAST(" + dateSortExpr(col) + " AS DATE)"
			if dr.Start != "" {
				clauses = append(clauses, Clause{SQL: expr + " >= CAST(? AS DATE)", Params: []interface{}{dr.Start}})
			}
			if dr.End != "" {
				clauses = append(clauses, Clause{SQL: expr + " <= CAST(? AS DATE)", Params: []interface{}{dr.End}})
			}
			used = append(used, col)
		} else {
			c.skip("date_range", dateFilterColumns)
		}
	}

	if types := nonEmpty(f.CertificationTypes); len(types) > 0 {
		if col, ok := planner.FirstPresent(certColumns, schema); ok {
			target := "UPPER(" + castVarchar(col) + ")"
			parts := make([]string, len(types))
			params := make([]interface{}, len(types))
			for i, t := range types {
				parts[i] = "regexp_matches(" + target + ", ?)"
				params[i] = ".*" + regexp.QuoteMeta(strings.ToUpper(t)) + ".*"
			}
			clauses = append(clauses, Clause{SQL: strings.Join(parts, " OR "), Params: params})
			used = append(used, col)
		} else {
			c.skip("certification_type", certColumns)
		}
	}

	if len(f.CompanyTypes) > 0 {
		if col, ok := planner.FirstPresent(importerColumns, schema); ok {
			v := castVarchar(col)
			var parts []string
			if contains(f.CompanyTypes, CompanyManufacturer) {
				parts = append(parts, "("+v+" IS NULL OR "+v+" = '')")
			}
			if contains(f.CompanyTypes, CompanyImporter) {
				parts = append(parts, "("+v+" IS NOT NULL AND "+v+" != '')")
			}
			if len(parts) > 0 {
				clauses = append(clauses, Clause{SQL: strings.Join(parts, " OR ")})
				used = append(used, col)
			}
		} else {
			c.skip("company_type", importerColumns)
		}
	}

	if keywords := nonEmpty(f.ExcludeKeywords); len(keywords) > 0 {
		var cols []string
		if col, ok := planner.FirstPresent(productColumns, schema); ok {
			cols = append(cols, col)
		}
		if col, ok := planner.FirstPresent(companyColumns, schema); ok {
			cols = append(cols, col)
		}
		if len(cols) == 0 {
			c.skip("exclude_keywords", append(append([]string(nil), productColumns...), companyColumns...))
		} else {
			for _, kw := range keywords {
				pattern := "%" + strings.ToLower(kw) + "%"
				parts := make([]string, len(cols))
				params := make([]interface{}, len(cols))
				for i, col := range cols {
					parts[i] = "LOWER(COALESCE(" + castVarchar(col) + ", '')) LIKE ?"
					params[i] = pattern
				}
				clauses = append(clauses, Clause{SQL: "NOT (" + strings.Join(parts, " OR ") + ")", Params: params})
			}
			used = append(used, cols...)
		}
	}

	if nr := f.NumericRange; nr != nil && (nr.Min != nil || nr.Max != nil) {
		field := nr.Field
		if field == "" {
			field = defaultNumericField
		}
		if _, ok := planner.FirstPresent([]string{field}, schema); ok {
			expr := "TRY_CAST(" + planner.QuoteIdent(field) + " AS DOUBLE)"
			if nr.Min != nil {
				clauses = append(clauses, Clause{SQL: expr + " >= ?", Params: []interface{}{*nr.Min}})
			}
			if nr.Max != nil {
				clauses = append(clauses, Clause{SQL: expr + " <= ?", Params: []interface{}{*nr.Max}})
			}
			used = append(used, field)
		} else {
			c.skip("numeric_range", []string{field})
		}
	}

	return clauses, used
}

func (c *Compiler) skip(filter string, candidates []string) {
	c.logger.Warn("filter skipped, no matching column", "filter", filter, "candidates", candidates)
}

func castVarchar(col string) string {
	return "CAST(" + planner.QuoteIdent(col) + " AS VARCHAR)"
}

func nonEmpty(items []string) []string {
	var out []string
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(items []string, want string) bool {
	for _, it := range items {
		if strings.EqualFold(strings.TrimSpace(it), want) {
			return true
		}
	}
	return false
}
