package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/datapage/certsearch/internal/query/executor"
)

const (
	// PreviewSize is the number of rows kept in a preview.
	PreviewSize = 100

	maxFieldSamples  = 10
	maxSampleTextLen = 100
)

// FieldInfo summarizes one column over the preview rows.
type FieldInfo struct {
	Type      string   `json:"type"`
	Samples   []string `json:"samples"`
	NullCount int      `json:"null_count"`
	NullRatio float64  `json:"null_ratio"`
}

// Preview is the first page of a dataset plus per-field information.
type Preview struct {
	Locator      string               `json:"locator"`
	TotalRecords int64                `json:"total_records"`
	Columns      []string             `json:"columns"`
	Records      []executor.Row       `json:"sample_records"`
	FieldInfo    map[string]FieldInfo `json:"field_info"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Preview returns the preview of loc, from the preview cache when a fresh
// entry exists.
func (e *Engine) Preview(ctx context.Context, loc string) (*Preview, error) {
	if e.previews != nil {
		if data, ok := e.previews.Get(loc); ok {
			var p Preview
			if err := json.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
			e.previews.Remove(loc)
		}
	}

	res, err := e.Search(ctx, SearchRequest{Locator: loc, Limit: e.previewRows})
	if err != nil {
		return nil, err
	}
	p := &Preview{
		Locator:      loc,
		TotalRecords: res.Pagination.TotalCount,
		Columns:      res.Columns,
		Records:      res.Rows,
		FieldInfo:    summarizeFields(res.Columns, res.Rows),
		CreatedAt:    time.Now().UTC(),
	}

	if e.previews != nil {
		data, err := json.Marshal(p)
		if err == nil {
			err = e.previews.Put(loc, data)
		}
		if err != nil {
			e.logger.Warn("preview not cached", "locator", loc, "error", err)
		}
	}
	return p, nil
}

// summarizeFields computes type, samples and null counts per column. Empty
// strings count as null.
func summarizeFields(cols []string, rows []executor.Row) map[string]FieldInfo {
	out := make(map[string]FieldInfo, len(cols))
	for _, col := range cols {
		fi := FieldInfo{Type: executor.KindNull.String(), Samples: []string{}}
		seen := make(map[string]struct{})
		for _, row := range rows {
			v, ok := row.Get(col)
			if !ok {
				continue
			}
			if s, isStr := v.Str(); v.IsNull() || (isStr && s == "") {
				fi.NullCount++
				continue
			}
			if fi.Type == executor.KindNull.String() {
				fi.Type = v.Kind().String()
			}
			if len(fi.Samples) >= maxFieldSamples {
				continue
			}
			text := v.Text()
			if r := []rune(text); len(r) > maxSampleTextLen {
				text = string(r[:maxSampleTextLen])
			}
			if _, dup := seen[text]; !dup {
				seen[text] = struct{}{}
				fi.Samples = append(fi.Samples, text)
			}
		}
		if len(rows) > 0 {
			fi.NullRatio = float64(fi.NullCount) / float64(len(rows))
		}
		out[col] = fi
	}
	return out
}
