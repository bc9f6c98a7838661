// Package compiler turns a search request into a parameterized query plan
// over a single relation. Plans are kept as clause objects with their bound
// parameters and rendered to SQL text only at the end.
package compiler

import (
	"strconv"
	"strings"

	"github.com/datapage/certsearch/internal/query/planner"
)

const (
	// TotalCountColumn is the window-count column injected into paged
	// queries. The prefix keeps it clear of dataset columns.
	TotalCountColumn = "__total_count"

	// RowOrdinalColumn is the physical row position every relation exposes.
	// It is the final sort key, so rows tied on every other key keep one
	// order across pages. It never reaches the result columns.
	RowOrdinalColumn = "__row_ordinal"
)

// Clause is a boolean SQL fragment with its positional parameters.
type Clause struct {
	SQL    string
	Params []interface{}
}

// Debug describes how the search predicate was resolved.
type Debug struct {
	SearchField    string   `json:"search_field"`
	ResolvedFields []string `json:"existing_fields"`
	FieldCount     int      `json:"field_count"`
	Where          string   `json:"where_clause"`
}

// Plan is a compiled search. It is request scoped and never persisted.
type Plan struct {
	// Relation is the FROM target: a parenthesized table function read or a
	// quoted view. Either way it must expose RowOrdinalColumn.
	Relation   string
	Projection planner.Projection

	// Search is nil when there is no keyword or nothing to match against.
	Search  *Clause
	Filters []Clause
	OrderBy []string

	// Limit of 0 means unbounded.
	Limit  int
	Offset int

	// WithTotal injects COUNT(*) OVER() so one query yields page and total.
	WithTotal bool

	Debug Debug
}

// SQL renders the plan. Parameters are returned in placeholder order.
func (p *Plan) SQL() (string, []interface{}) {
	ordinal := planner.QuoteIdent(RowOrdinalColumn)
	inner, outer := "*", "* EXCLUDE ("+ordinal+")"
	if proj := p.Projection.SQL(); proj != "*" {
		inner, outer = proj+", "+ordinal, proj
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(outer)
	if p.WithTotal {
		b.WriteString(", COUNT(*) OVER() AS ")
		b.WriteString(planner.QuoteIdent(TotalCountColumn))
	}
	b.WriteString(" FROM (SELECT ")
	b.WriteString(inner)
	b.WriteString(" FROM ")
	b.WriteString(p.Relation)
	b.WriteString(") AS src")

	conds, params := p.where()
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	b.WriteString(" ORDER BY ")
	for _, term := range p.OrderBy {
		b.WriteString(term)
		b.WriteString(", ")
	}
	b.WriteString(ordinal)
	b.WriteString(" ASC")

	if p.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(p.Limit))
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(p.Offset))
	}
	return b.String(), params
}

func (p *Plan) where() ([]string, []interface{}) {
	var conds []string
	var params []interface{}
	if p.Search != nil {
		conds = append(conds, "("+p.Search.SQL+")")
		params = append(params, p.Search.Params...)
	}
	for _, f := range p.Filters {
		conds = append(conds, "("+f.SQL+")")
		params = append(params, f.Params...)
	}
	return conds, params
}

// WhereSQL renders only the predicate part, for diagnostics.
func (p *Plan) WhereSQL() string {
	conds, _ := p.where()
	return strings.Join(conds, " AND ")
}

// ParquetRelation returns a table-function read over a columnar file, with
// the file row number exposed as RowOrdinalColumn.
func ParquetRelation(path string) string {
	return "(SELECT * EXCLUDE (file_row_number), file_row_number AS " + planner.QuoteIdent(RowOrdinalColumn) +
		" FROM read_parquet(" + QuoteLiteral(path) + ", file_row_number = true))"
}

// QuoteLiteral renders s as a single-quoted SQL string literal. It is used
// only for file paths, which cannot be bound as parameters in FROM.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
