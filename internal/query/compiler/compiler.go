package compiler

import (
	"fmt"
	"log/slog"

	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/datapage/certsearch/internal/observability"
	"github.com/datapage/certsearch/internal/query/planner"
)

// Request is the input of a compilation.
type Request struct {
	// Relation is the FROM target (see ParquetRelation).
	Relation string

	// Schema is the resolved column list; empty when unknown.
	Schema []string

	Keyword     string
	SearchField string
	Filters     *Filters

	SearchFields   []string
	DisplayFields  []string
	RequiredFields []string

	// Page is 1-based. Limit of 0 returns every row on page 1.
	Page  int
	Limit int

	// Stream drops pagination and the window count.
	Stream bool
}

// Compiler builds query plans.
type Compiler struct {
	casePolicy *planner.CasePolicy
	logger     *slog.Logger
}

// New creates a compiler. A nil policy means DefaultCasePolicy.
func New(casePolicy *planner.CasePolicy, logger *slog.Logger) *Compiler {
	if casePolicy == nil {
		casePolicy = planner.DefaultCasePolicy()
	}
	return &Compiler{
		casePolicy: casePolicy,
		logger:     observability.Component(logger, "compiler"),
	}
}

// Compile builds the plan for req.
func (c *Compiler) Compile(req Request) (*Plan, error) {
	if req.Relation == "" {
		return nil, apperrors.NewInternalError("no relation to query", nil)
	}
	if req.Limit < 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest,
			fmt.Sprintf("limit must not be negative, got %d", req.Limit))
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	search, searchCols, debug := c.buildSearch(req.SearchField, req.Keyword, req.Schema)
	filters, filterCols := c.buildFilters(req.Filters, req.Schema)
	order, orderCols := buildOrder(req.Schema)

	dynamic := make([]string, 0, len(searchCols)+len(filterCols)+len(orderCols))
	dynamic = append(dynamic, searchCols...)
	dynamic = append(dynamic, filterCols...)
	dynamic = append(dynamic, orderCols...)

	proj := planner.BuildProjection(planner.ProjectionInput{
		SearchFields:   req.SearchFields,
		DisplayFields:  req.DisplayFields,
		RequiredFields: req.RequiredFields,
		DynamicFields:  dynamic,
	}, req.Schema, c.logger)

	plan := &Plan{
		Relation:   req.Relation,
		Projection: proj,
		Search:     search,
		Filters:    filters,
		OrderBy:    order,
		Debug:      debug,
	}
	if !req.Stream {
		plan.WithTotal = true
		if req.Limit > 0 {
			plan.Limit = req.Limit
			plan.Offset = (page - 1) * req.Limit
		}
	}
	if plan.Debug.Where == "" {
		plan.Debug.Where = plan.WhereSQL()
	}
	return plan, nil
}
