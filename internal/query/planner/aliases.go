// Package planner maps logical search fields onto the physical columns of a
// dataset and derives the column projection of a search.
package planner

import "strings"

// Logical search fields.
const (
	FieldCompanyName = "company_name"
	FieldModelName   = "model_name"
	FieldProductName = "product_name"
)

// fieldAliases lists, per logical field, the physical column names used by
// the different source systems, in preference order.
var fieldAliases = map[string][]string{
	FieldCompanyName: {"업체명", "maker_name", "entrprsNm", "상호/법인명", "사업자명"},
	FieldModelName:   {"모델명", "model_name"},
	FieldProductName: {"제품명", "product_name", "prductNm", "품목명"},
}

// Aliases returns the physical column variants of a logical field, or nil
// for fields that are not logical search concepts.
func Aliases(logicalField string) []string {
	aliases, ok := fieldAliases[logicalField]
	if !ok {
		return nil
	}
	return append([]string(nil), aliases...)
}

// IsLogicalField reports whether field is one of the aliased search concepts.
func IsLogicalField(field string) bool {
	_, ok := fieldAliases[field]
	return ok
}

// ResolveSearchColumns returns the aliases of logicalField present in
// available, in alias order. When none are present, the field name itself is
// used if it is a column. The result is empty when nothing resolves.
func ResolveSearchColumns(logicalField string, available []string) []string {
	if logicalField == "" {
		return nil
	}
	present := toSet(available)

	var out []string
	for _, alias := range fieldAliases[logicalField] {
		if _, ok := present[alias]; ok {
			out = append(out, alias)
		}
	}
	if len(out) > 0 {
		return out
	}
	if _, ok := present[logicalField]; ok {
		return []string{logicalField}
	}
	return nil
}

// FirstPresent returns the first candidate present in available.
func FirstPresent(candidates, available []string) (string, bool) {
	present := toSet(available)
	for _, c := range candidates {
		if _, ok := present[c]; ok {
			return c, true
		}
	}
	return "", false
}

// AllPresent returns every candidate present in available, in candidate order.
func AllPresent(candidates, available []string) []string {
	present := toSet(available)
	var out []string
	for _, c := range candidates {
		if _, ok := present[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// QuoteIdent renders name as a double-quoted SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
