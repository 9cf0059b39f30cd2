// Package ingest turns a parsed metrics table into an engine batch.
package ingest

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gl-deviation/internal/deviation"
	"github.com/sells-group/gl-deviation/internal/tabular"
)

// Identity columns every input must carry.
const (
	ColumnAccountCode = "Account Code"
	ColumnAccountName = "Account Name"
)

// Sentinel errors for structurally unusable input.
var (
	ErrEmpty           = eris.New("ingest: input has no account rows")
	ErrMissingIdentity = eris.New("ingest: missing required identity column")
	ErrNoMetrics       = eris.New("ingest: no '<Metric>_CY_Mean' columns found")
)

// Issue is one problem found while validating a table.
type Issue struct {
	Err     error
	Message string
}

func (i Issue) String() string {
	return i.Message
}

// Validate inspects a table's shape without building a batch. It returns
// every issue found; an empty result means the table is usable.
func Validate(t *tabular.Table) []Issue {
	var issues []Issue
	if t == nil || len(t.Rows) == 0 {
		issues = append(issues, Issue{Err: ErrEmpty, Message: "Input looks empty."})
	}
	if t == nil {
		return issues
	}

	for _, col := range []string{ColumnAccountCode, ColumnAccountName} {
		if t.Index(col) < 0 {
			issues = append(issues, Issue{
				Err:     ErrMissingIdentity,
				Message: fmt.Sprintf("Missing required column: %s", col),
			})
		}
	}

	if len(deviation.DiscoverMetrics(t.Columns)) == 0 {
		issues = append(issues, Issue{
			Err:     ErrNoMetrics,
			Message: "No '<Metric>_CY_Mean' columns found. Input doesn't look like a GL analysis results table.",
		})
	}
	return issues
}

// Result is a batch plus non-fatal observations about the input.
type Result struct {
	Batch            deviation.Batch
	DuplicateColumns []string
	DuplicateCodes   []string
}

// Build validates t and converts it to a batch. The first structural issue
// is returned as an error wrapping its sentinel.
func Build(t *tabular.Table) (*Result, error) {
	if issues := Validate(t); len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, is := range issues {
			msgs[i] = is.Message
		}
		return nil, eris.Wrap(issues[0].Err, strings.Join(msgs, " "))
	}

	res := &Result{DuplicateColumns: duplicates(t.Columns)}
	for _, c := range res.DuplicateColumns {
		zap.L().Warn("ingest: duplicate column, first occurrence used", zap.String("column", c))
	}

	codeIdx := t.Index(ColumnAccountCode)
	nameIdx := t.Index(ColumnAccountName)

	rows := make([]deviation.AccountRow, 0, len(t.Rows))
	codes := make([]string, 0, len(t.Rows))
	for i := range t.Rows {
		fields := t.Record(i)
		code := strings.TrimSpace(t.Rows[i][codeIdx])
		rows = append(rows, deviation.AccountRow{
			Code:   code,
			Name:   strings.TrimSpace(t.Rows[i][nameIdx]),
			Fields: fields,
		})
		codes = append(codes, code)
	}

	res.DuplicateCodes = duplicates(codes)
	if len(res.DuplicateCodes) > 0 {
		zap.L().Warn("ingest: duplicate account codes", zap.Strings("codes", res.DuplicateCodes))
	}

	res.Batch = deviation.NewBatch(t.Columns, rows)
	zap.L().Debug("ingest: batch built",
		zap.Int("rows", len(rows)),
		zap.Strings("metrics", res.Batch.Metrics),
	)
	return res, nil
}

func duplicates(values []string) []string {
	seen := make(map[string]int, len(values))
	var out []string
	for _, v := range values {
		seen[v]++
		if seen[v] == 2 && v != "" {
			out = append(out, v)
		}
	}
	return out
}
