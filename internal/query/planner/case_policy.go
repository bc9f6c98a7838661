package planner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CasePolicy decides per physical column whether substring search folds case.
type CasePolicy struct {
	CaseInsensitiveFields  map[string]bool `json:"case_insensitive_fields" yaml:"case_insensitive_fields"`
	CaseSensitiveFields    map[string]bool `json:"case_sensitive_fields" yaml:"case_sensitive_fields"`
	DefaultCaseInsensitive bool            `json:"default_case_insensitive" yaml:"default_case_insensitive"`
}

// DefaultCasePolicy folds case for company and product names and matches
// certificate numbers and model names exactly.
func DefaultCasePolicy() *CasePolicy {
	return &CasePolicy{
		CaseInsensitiveFields: map[string]bool{
			"업체명":          true,
			"제품명":          true,
			"company_name": true,
			"product_name": true,
		},
		CaseSensitiveFields: map[string]bool{
			"인증번호":             true,
			"모델명":              true,
			"certification_no": true,
			"model_name":       true,
		},
	}
}

// IsCaseInsensitive reports whether column should be matched case-insensitively.
// The insensitive list is consulted first, then the sensitive list, then the default.
func (p *CasePolicy) IsCaseInsensitive(column string) bool {
	if p == nil {
		return false
	}
	if v, ok := p.CaseInsensitiveFields[column]; ok {
		return v
	}
	if v, ok := p.CaseSensitiveFields[column]; ok {
		return !v
	}
	return p.DefaultCaseInsensitive
}

// ParseCasePolicy decodes a policy from JSON or YAML according to ext.
func ParseCasePolicy(data []byte, ext string) (*CasePolicy, error) {
	p := &CasePolicy{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse YAML case policy: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse JSON case policy: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported case policy format: %s", ext)
	}
	return p, nil
}

// LoadCasePolicy reads the policy at path. A missing path, unreadable file or
// invalid content yields the default policy and a warning.
func LoadCasePolicy(path string, logger *slog.Logger) *CasePolicy {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultCasePolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("case policy not loaded, using defaults", "path", path, "error", err)
		return DefaultCasePolicy()
	}
	p, err := ParseCasePolicy(data, filepath.Ext(path))
	if err != nil {
		logger.Warn("case policy not loaded, using defaults", "path", path, "error", err)
		return DefaultCasePolicy()
	}
	logger.Info("case policy loaded", "path", path,
		"insensitive", len(p.CaseInsensitiveFields), "sensitive", len(p.CaseSensitiveFields))
	return p
}
