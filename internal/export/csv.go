// Package export writes streamed search results as files for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/datapage/certsearch/internal/query/executor"
)

// utf8BOM lets spreadsheet applications detect the encoding.
const utf8BOM = "\uFEFF"

// CSVSink writes streamed rows as CSV. Its Write method has the signature
// of executor.Sink.
type CSVSink struct {
	w       io.Writer
	cw      *csv.Writer
	columns []string
	started bool
	rows    int64
}

// NewCSVSink creates a sink writing to w. When columns is empty the header
// is taken from the first chunk.
func NewCSVSink(w io.Writer, columns []string) *CSVSink {
	return &CSVSink{
		w:       w,
		cw:      csv.NewWriter(w),
		columns: columns,
	}
}

// Write appends rows and flushes them.
func (s *CSVSink) Write(rows []executor.Row, processed int64) error {
	if !s.started {
		if err := s.start(rows); err != nil {
			return err
		}
	}

	record := make([]string, len(s.columns))
	for _, row := range rows {
		for i, col := range s.columns {
			v, _ := row.Get(col)
			record[i] = v.Text()
		}
		if err := s.cw.Write(record); err != nil {
			return fmt.Errorf("export: writing row: %w", err)
		}
	}
	s.rows += int64(len(rows))
	s.cw.Flush()
	return s.cw.Error()
}

// Close writes the header if no rows arrived and flushes.
func (s *CSVSink) Close() error {
	if !s.started {
		if err := s.start(nil); err != nil {
			return err
		}
	}
	s.cw.Flush()
	return s.cw.Error()
}

// Rows returns the number of data rows written.
func (s *CSVSink) Rows() int64 {
	return s.rows
}

func (s *CSVSink) start(first []executor.Row) error {
	s.started = true
	if len(s.columns) == 0 && len(first) > 0 {
		s.columns = first[0].Columns()
	}
	if _, err := io.WriteString(s.w, utf8BOM); err != nil {
		return fmt.Errorf("export: writing BOM: %w", err)
	}
	if len(s.columns) == 0 {
		return nil
	}
	if err := s.cw.Write(s.columns); err != nil {
		return fmt.Errorf("export: writing header: %w", err)
	}
	return nil
}
