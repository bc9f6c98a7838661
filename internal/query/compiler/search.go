package compiler

import (
	"strings"

	"github.com/datapage/certsearch/internal/query/planner"
)

// registrationFields are matched exactly after stripping hyphens and spaces.
var registrationFields = map[string][]string{
	"business_number":     {"business_number", "ftc_business_number"},
	"사업자등록번호":             {"사업자등록번호"},
	"ftc_business_number": {"ftc_business_number", "business_number"},
}

// exactMatchColumns hold certificate and declaration numbers, which are
// compared with = rather than substring matching.
var exactMatchColumns = map[string]struct{}{
	"cert_no":    {},
	"cert_num":   {},
	"declare_no": {},
	"신고번호":       {},
	"승인번호":       {},
}

// noMatch is the predicate of a registration search on a dataset without
// registration columns.
const noMatch = "1=0"

// buildSearch returns the OR-combined keyword predicate and the columns it
// reads. It returns a nil clause when no predicate applies.
func (c *Compiler) buildSearch(field, keyword string, schema []string) (*Clause, []string, Debug) {
	debug := Debug{SearchField: field}
	if keyword == "" {
		return nil, nil, debug
	}

	if variants, ok := registrationFields[field]; ok {
		cleaned := stripSeparators(keyword)
		cols := planner.AllPresent(variants, schema)
		debug.ResolvedFields = cols
		debug.FieldCount = len(cols)
		if len(cols) == 0 {
			debug.Where = noMatch
			return &Clause{SQL: noMatch}, nil, debug
		}
		parts := make([]string, len(cols))
		params := make([]interface{}, len(cols))
		for i, col := range cols {
			parts[i] = "REPLACE(REPLACE(" + castVarchar(col) + ", '-', ''), ' ', '') = ?"
			params[i] = cleaned
		}
		clause := &Clause{SQL: strings.Join(parts, " OR "), Params: params}
		debug.Where = clause.SQL
		return clause, cols, debug
	}

	cols := planner.ResolveSearchColumns(field, schema)
	debug.ResolvedFields = cols
	debug.FieldCount = len(cols)
	if len(cols) == 0 {
		c.logger.Warn("search field not resolvable, predicate omitted", "search_field", field, "columns", len(schema))
		return nil, nil, debug
	}

	lowered := "%" + strings.ToLower(keyword) + "%"
	parts := make([]string, len(cols))
	params := make([]interface{}, len(cols))
	for i, col := range cols {
		switch {
		case isExactMatchColumn(col):
			parts[i] = castVarchar(col) + " = ?"
			params[i] = keyword
		case c.casePolicy.IsCaseInsensitive(col):
			parts[i] = "LOWER(" + castVarchar(col) + ") LIKE ?"
			params[i] = lowered
		default:
			parts[i] = castVarchar(col) + " LIKE ?"
			params[i] = "%" + keyword + "%"
		}
	}
	clause := &Clause{SQL: strings.Join(parts, " OR "), Params: params}
	debug.Where = clause.SQL
	return clause, cols, debug
}

func isExactMatchColumn(col string) bool {
	_, ok := exactMatchColumns[col]
	return ok
}

func stripSeparators(s string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(s)
}
