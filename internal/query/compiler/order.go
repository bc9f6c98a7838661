package compiler

import (
	"github.com/datapage/certsearch/internal/query/planner"
)

// dateOrderColumns are tried in order for recency sorting.
var dateOrderColumns = []string{
	"완료일", "인증일자", "인증변경일자", "서명일자", "인증만료일자", "완료일자",
	"발급일", "만료일", "설립일", "cert_date", "sign_date", "cert_chg_date",
	"registration_date", "approval_date", "declaration_date", "recall_date",
	"등록일", "승인일", "신고일", "리콜일", "생성일", "수정일",
	"신고증명서 발급일", "시험성적서 만료일", "유통기한",
}

// nameOrderColumns break ties between rows of the same date.
var nameOrderColumns = []string{
	"품목", "제품명", "product_name", "업체명", "company_name", "상호",
	"기자재명칭", "모델명", "model_name",
}

// dateSortExpr parses col as a timestamp, tolerating yyyymmdd,
// yyyymmddHHMMSS and free-form date strings. Unparseable values are NULL.
func dateSortExpr(col string) string {
	v := castVarchar(col)
	t := "TRIM(" + v + ")"
	return "CASE WHEN " + v + " IS NULL OR " + t + " = '' THEN NULL" +
		" WHEN LENGTH(" + t + ") = 8 THEN TRY_STRPTIME(" + t + ", '%Y%m%d')" +
		" WHEN LENGTH(" + t + ") = 14 THEN TRY_STRPTIME(" + t + ", '%Y%m%d%H%M%S')" +
		" ELSE TRY_CAST(" + t + " AS TIMESTAMP) END"
}

// buildOrder returns the ORDER BY terms for schema and the columns they read.
// Plans append the row ordinal after these terms, so an empty schema yields
// no terms at all.
func buildOrder(schema []string) ([]string, []string) {
	var terms, used []string

	if col, ok := planner.FirstPresent(dateOrderColumns, schema); ok {
		terms = append(terms, dateSortExpr(col)+" DESC NULLS LAST")
		used = append(used, col)
	}
	if col, ok := planner.FirstPresent(nameOrderColumns, schema); ok {
		terms = append(terms, planner.QuoteIdent(col)+" ASC")
		used = append(used, col)
	}
	if len(terms) > 0 {
		return terms, used
	}

	if len(schema) > 0 {
		return []string{planner.QuoteIdent(schema[0])}, []string{schema[0]}
	}
	return nil, nil
}
