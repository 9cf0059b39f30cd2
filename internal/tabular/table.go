// Package tabular reads account-metric tables from CSV, XLSX, and JSON
// sources into a uniform header-plus-rows form.
package tabular

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a header row plus data rows. Every row has exactly
// len(Columns) cells; short source rows are padded with empty strings.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable normalises a header and raw rows into a Table. Header cells are
// trimmed and a leading UTF-8 byte order mark is removed.
func NewTable(header []string, rows [][]string) *Table {
	cols := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[i] = strings.TrimSpace(h)
	}

	t := &Table{Columns: cols, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		if blankRow(r) {
			continue
		}
		cells := make([]string, len(cols))
		copy(cells, r)
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Record returns row i keyed by column name. When a column name repeats the
// first occurrence wins.
func (t *Table) Record(i int) map[string]string {
	out := make(map[string]string, len(t.Columns))
	for j, c := range t.Columns {
		if _, dup := out[c]; dup {
			continue
		}
		out[c] = t.Rows[i][j]
	}
	return out
}

// Len is the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

func blankRow(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Format names a supported source format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat accepts a format name, a file extension, or a MIME type.
func ParseFormat(s string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(v, ";"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	v = strings.TrimPrefix(v, ".")

	switch v {
	case "csv", "text/csv", "application/csv", "text/plain":
		return FormatCSV, nil
	case "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, nil
	case "json", "application/json":
		return FormatJSON, nil
	}
	return "", eris.Errorf("tabular: unsupported format %q", s)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", eris.Errorf("tabular: cannot infer format of %q without an extension", path)
	}
	return ParseFormat(ext)
}
