package tabular

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)
		decoder.UseNumber()

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// ReadJSON reads an array of flat objects, one per account. Columns are
// the union of keys: leadingColumns first when present, then the rest
// sorted. Nested values are rejected.
func ReadJSON(ctx context.Context, r io.Reader, leadingColumns ...string) (*Table, error) {
	outCh, errCh := DecodeJSONArray[map[string]any](ctx, r)

	var objs []map[string]any
	for obj := range outCh {
		objs = append(objs, obj)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	keys := make(map[string]bool)
	for _, o := range objs {
		for k := range o {
			keys[k] = true
		}
	}

	var header []string
	for _, c := range leadingColumns {
		if keys[c] {
			header = append(header, c)
			delete(keys, c)
		}
	}
	rest := make([]string, 0, len(keys))
	for k := range keys {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	header = append(header, rest...)

	rows := make([][]string, 0, len(objs))
	for i, o := range objs {
		row := make([]string, len(header))
		for j, col := range header {
			v, ok := o[col]
			if !ok {
				continue
			}
			s, err := jsonCell(v)
			if err != nil {
				return nil, eris.Wrapf(err, "json: element %d field %q", i, col)
			}
			row[j] = s
		}
		rows = append(rows, row)
	}
	return NewTable(header, rows), nil
}

func jsonCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	}
	return "", eris.Errorf("unsupported value of type %T", v)
}
