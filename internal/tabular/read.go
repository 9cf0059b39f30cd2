package tabular

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Options selects how a source is parsed.
type Options struct {
	CSV  CSVOptions
	XLSX XLSXOptions
	// LeadingColumns orders JSON columns that should come first.
	LeadingColumns []string
}

// Read parses r in the given format. XLSX input is buffered in memory.
func Read(ctx context.Context, r io.Reader, format Format, opts Options) (*Table, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(ctx, r, opts.CSV)
	case FormatJSON:
		return ReadJSON(ctx, r, opts.LeadingColumns...)
	case FormatXLSX:
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, eris.Wrap(err, "tabular: buffer xlsx")
		}
		return ReadXLSXBytes(buf.Bytes(), opts.XLSX)
	}
	return nil, eris.Errorf("tabular: unsupported format %q", format)
}

// ReadFile parses the file at path, inferring the format from its extension.
func ReadFile(ctx context.Context, path string, opts Options) (*Table, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == FormatXLSX {
		return ReadXLSX(path, opts.XLSX)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return Read(ctx, f, format, opts)
}
