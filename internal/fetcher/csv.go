package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	// EmptyHeader renames a blank header cell, typically the unnamed index
	// column written by data-frame exports.
	EmptyHeader string
}

// Record is one data row keyed by header name.
type Record struct {
	Line   int
	Fields map[string]string
}

// StreamCSV reads a headed CSV document and sends each data row on the record
// channel. The caller must drain the record channel; at most one error is sent
// on the error channel. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record, <-chan error) {
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1
		reader.ReuseRecord = false

		var header []string
		line := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				if header == nil {
					errCh <- eris.New("csv: missing header row")
				}
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			line++

			if opts.TrimSpace {
				for i, field := range row {
					row[i] = strings.TrimSpace(field)
				}
			}

			if header == nil {
				header = normalizeHeader(row, opts.EmptyHeader)
				continue
			}

			fields := make(map[string]string, len(header))
			for i, name := range header {
				if i < len(row) {
					fields[name] = row[i]
				}
			}

			select {
			case recCh <- Record{Line: line, Fields: fields}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}

// ReadCSV collects every record of a headed CSV document.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]Record, error) {
	recCh, errCh := StreamCSV(ctx, r, opts)
	var out []Record
	for rec := range recCh {
		out = append(out, rec)
	}
	if err := <-errCh; err != nil {
		return out, err
	}
	return out, nil
}

func normalizeHeader(row []string, empty string) []string {
	header := make([]string, len(row))
	for i, name := range row {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		if name == "" && empty != "" {
			name = empty
		}
		header[i] = name
	}
	return header
}
