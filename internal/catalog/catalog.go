// Package catalog maps (category, subcategory, result type) to a dataset
// locator and its configured search, display and download fields.
//
// The field settings file has one entry per subcategory:
//
//	{
//	  "dataA": {
//	    "safetykorea": {
//	      "category_info": {"display_name": "...", "data_file": "parquet/1_safetykorea_flattened.parquet"},
//	      "search_fields": [{"field": "company_name", "name": "..."}],
//	      "display_fields": [{"field": "company_name", "name": "..."}],
//	      "download_fields": ["company_name", "product_name"]
//	    }
//	  },
//	  "dataC": {
//	    "success": {"safetykorea": {...}}
//	  }
//	}
//
// Result-typed categories such as dataC nest one more level.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/datapage/certsearch/internal/observability"
	"gopkg.in/yaml.v3"
)

// DefaultSubcategoryAliases maps legacy subcategory names to current ones.
var DefaultSubcategoryAliases = map[string]string{
	"approval-details":    "approval",
	"rra-certification":   "rra-cert",
	"rra-self-conformity": "rra-self-cert",
}

// Info describes a dataset.
type Info struct {
	DisplayName string `json:"display_name,omitempty" yaml:"display_name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`

	// DataFile is resolved against the catalog's base URL or directory.
	DataFile string `json:"data_file,omitempty" yaml:"data_file"`

	// Locator overrides DataFile.
	Locator string `json:"locator,omitempty" yaml:"locator"`

	// LocatorEnv names an environment variable that, when set, overrides
	// both Locator and DataFile.
	LocatorEnv string `json:"locator_env,omitempty" yaml:"locator_env"`
}

// SearchField is a search option offered for a dataset.
type SearchField struct {
	Field       string `json:"field" yaml:"field"`
	Name        string `json:"name" yaml:"name"`
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder"`
}

// DisplayField is a result column shown for a dataset.
type DisplayField struct {
	Field string `json:"field" yaml:"field"`
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type,omitempty" yaml:"type"`
	Width string `json:"width,omitempty" yaml:"width"`
	Align string `json:"align,omitempty" yaml:"align"`
}

type entry struct {
	Info           Info           `yaml:"category_info"`
	SearchFields   []SearchField  `yaml:"search_fields"`
	DisplayFields  []DisplayField `yaml:"display_fields"`
	DownloadFields []string       `yaml:"download_fields"`
}

// Dataset is a resolved catalog entry.
type Dataset struct {
	Category    string `json:"category"`
	ResultType  string `json:"result_type,omitempty"`
	Subcategory string `json:"subcategory"`
	Locator     string `json:"-"`
	Info        Info   `json:"info"`

	SearchOptions  []SearchField  `json:"search_fields"`
	DisplayOptions []DisplayField `json:"display_fields"`
	DownloadFields []string       `json:"download_fields"`
}

// SearchFields returns the configured search field names.
func (d *Dataset) SearchFields() []string {
	out := make([]string, 0, len(d.SearchOptions))
	for _, f := range d.SearchOptions {
		if f.Field != "" && f.Field != "all" {
			out = append(out, f.Field)
		}
	}
	return out
}

// DisplayFields returns the configured display field names.
func (d *Dataset) DisplayFields() []string {
	out := make([]string, 0, len(d.DisplayOptions))
	for _, f := range d.DisplayOptions {
		if f.Field != "" {
			out = append(out, f.Field)
		}
	}
	return out
}

// Options configures a Catalog.
type Options struct {
	BaseURL string
	BaseDir string

	// Aliases defaults to DefaultSubcategoryAliases.
	Aliases map[string]string

	Logger *slog.Logger

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

type key struct {
	category, resultType, subcategory string
}

// Catalog is an immutable dataset catalog.
type Catalog struct {
	entries map[key]*entry
	opts    Options
	logger  *slog.Logger
}

// Load reads a field settings file (JSON or YAML).
func Load(path string, opts Options) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field settings: %w", err)
	}
	c, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse builds a catalog from field settings. JSON input is accepted since
// it is valid YAML.
func Parse(data []byte, opts Options) (*Catalog, error) {
	if opts.Aliases == nil {
		opts.Aliases = DefaultSubcategoryAliases
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	var raw map[string]map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse field settings: %w", err)
	}

	c := &Catalog{
		entries: make(map[key]*entry),
		opts:    opts,
		logger:  observability.Component(opts.Logger, "catalog"),
	}
	for category, subs := range raw {
		for name, node := range subs {
			if isEntry(&node) {
				var e entry
				if err := node.Decode(&e); err != nil {
					return nil, fmt.Errorf("%s/%s: %w", category, name, err)
				}
				c.entries[key{category, "", name}] = &e
				continue
			}
			// name is a result type holding subcategory entries.
			var nested map[string]*entry
			if err := node.Decode(&nested); err != nil {
				return nil, fmt.Errorf("%s/%s: %w", category, name, err)
			}
			for sub, e := range nested {
				if e != nil {
					c.entries[key{category, name, sub}] = e
				}
			}
		}
	}
	return c, nil
}

// isEntry reports whether node is a subcategory entry rather than a result
// type level.
func isEntry(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "category_info", "search_fields", "display_fields", "download_fields":
			return true
		}
	}
	return false
}

// NormalizeSubcategory applies the subcategory alias map.
func (c *Catalog) NormalizeSubcategory(sub string) string {
	if alias, ok := c.opts.Aliases[sub]; ok {
		return alias
	}
	return sub
}

// Resolve returns the dataset for category/subcategory and, for
// result-typed categories, resultType.
func (c *Catalog) Resolve(category, subcategory, resultType string) (*Dataset, error) {
	sub := c.NormalizeSubcategory(subcategory)
	if sub != subcategory {
		c.logger.Debug("subcategory normalized", "from", subcategory, "to", sub)
	}
	e, ok := c.entries[key{category, resultType, sub}]
	if !ok {
		return nil, apperrors.NewValidationError(apperrors.CodeDatasetNotFound,
			fmt.Sprintf("no dataset for %s", joinKey(category, resultType, subcategory)))
	}

	loc := c.locatorFor(e.Info)
	if loc == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeDatasetNotFound,
			fmt.Sprintf("dataset %s has no data file", joinKey(category, resultType, sub)))
	}
	return &Dataset{
		Category:       category,
		ResultType:     resultType,
		Subcategory:    sub,
		Locator:        loc,
		Info:           e.Info,
		SearchOptions:  e.SearchFields,
		DisplayOptions: e.DisplayFields,
		DownloadFields: e.DownloadFields,
	}, nil
}

func (c *Catalog) locatorFor(info Info) string {
	if info.LocatorEnv != "" {
		if v := strings.TrimSpace(c.opts.Getenv(info.LocatorEnv)); v != "" {
			return v
		}
	}
	if info.Locator != "" {
		return info.Locator
	}
	file := info.DataFile
	if file == "" {
		return ""
	}
	if strings.Contains(file, "://") || filepath.IsAbs(file) {
		return file
	}
	if c.opts.BaseURL != "" {
		return strings.TrimRight(c.opts.BaseURL, "/") + "/" + path.Clean(strings.TrimPrefix(file, "./"))
	}
	return filepath.Join(c.opts.BaseDir, file)
}

// Summary lists one dataset.
type Summary struct {
	Category    string `json:"category"`
	ResultType  string `json:"result_type,omitempty"`
	Subcategory string `json:"subcategory"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// List returns every dataset sorted by category, result type and
// subcategory.
func (c *Catalog) List() []Summary {
	out := make([]Summary, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, Summary{
			Category:    k.category,
			ResultType:  k.resultType,
			Subcategory: k.subcategory,
			DisplayName: e.Info.DisplayName,
			Description: e.Info.Description,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.ResultType != b.ResultType {
			return a.ResultType < b.ResultType
		}
		return a.Subcategory < b.Subcategory
	})
	return out
}

// Locators returns the distinct locators of every resolvable dataset.
func (c *Catalog) Locators() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range c.entries {
		loc := c.locatorFor(e.Info)
		if loc == "" {
			continue
		}
		if _, dup := seen[loc]; !dup {
			seen[loc] = struct{}{}
			out = append(out, loc)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of datasets.
func (c *Catalog) Len() int {
	return len(c.entries)
}

func joinKey(category, resultType, subcategory string) string {
	if resultType == "" {
		return category + "/" + subcategory
	}
	return category + "/" + resultType + "/" + subcategory
}
