package planner

import (
	"log/slog"
	"strings"
)

// sortEssentialColumns keep a date column in narrow projections so the
// result can still be ordered by recency.
var sortEssentialColumns = []string{"cert_date", "crawl_date", "crawled_at", "설립일"}

// ProjectionInput carries the field lists a projection is built from.
type ProjectionInput struct {
	SearchFields   []string
	DisplayFields  []string
	RequiredFields []string

	// DynamicFields are columns discovered while building predicates and order.
	DynamicFields []string
}

// Projection is the column list of a search, or the wildcard.
type Projection struct {
	Columns  []string
	Wildcard bool

	// Missing lists configured fields absent from the schema.
	Missing []string
}

// SQL renders the projection as quoted identifiers, or "*".
func (p Projection) SQL() string {
	if p.Wildcard || len(p.Columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		quoted[i] = QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// BuildProjection unions the input field lists in first-seen order and keeps
// the ones present in available. It returns the wildcard when the schema is
// unknown, when no field list is configured, or when nothing survives.
// Configured fields missing from the schema are logged, not raised.
func BuildProjection(in ProjectionInput, available []string, logger *slog.Logger) Projection {
	if len(available) == 0 {
		return Projection{Wildcard: true}
	}
	if len(in.SearchFields) == 0 && len(in.DisplayFields) == 0 && len(in.RequiredFields) == 0 {
		return Projection{Wildcard: true}
	}

	present := toSet(available)
	seen := make(map[string]struct{})
	var ordered []string
	add := func(fields ...string) {
		for _, f := range fields {
			if f == "" {
				continue
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			ordered = append(ordered, f)
		}
	}

	add(in.SearchFields...)
	add(in.DisplayFields...)
	if col, ok := FirstPresent(sortEssentialColumns, available); ok {
		add(col)
	}
	add(in.RequiredFields...)
	add(in.DynamicFields...)

	var p Projection
	for _, f := range ordered {
		if _, ok := present[f]; ok {
			p.Columns = append(p.Columns, f)
		}
	}

	configured := make(map[string]struct{})
	for _, list := range [][]string{in.SearchFields, in.DisplayFields, in.RequiredFields} {
		for _, f := range list {
			if _, ok := present[f]; ok || f == "" {
				continue
			}
			if _, dup := configured[f]; dup {
				continue
			}
			configured[f] = struct{}{}
			p.Missing = append(p.Missing, f)
		}
	}
	if len(p.Missing) > 0 {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("configured fields missing from schema", "missing", p.Missing, "available", len(available))
	}

	if len(p.Columns) == 0 {
		p.Wildcard = true
	}
	return p
}
