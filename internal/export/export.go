// Package export writes query results as CSV or XLSX.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/cobenefit-atlas/internal/query"
)

// Format is an output file format.
type Format string

// Formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", eris.Errorf("export: unsupported file type %q", filepath.Ext(path))
}

// Columns orders the output columns: preferred columns first, in order, then
// every other column seen in rows, sorted.
func Columns(rows []query.Row, preferred []string) []string {
	cols := slices.Clone(preferred)
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[strings.ToLower(c)] = true
	}
	var extra []string
	for _, r := range rows {
		for k := range r {
			if !seen[strings.ToLower(k)] {
				seen[strings.ToLower(k)] = true
				extra = append(extra, k)
			}
		}
	}
	slices.Sort(extra)
	return append(cols, extra...)
}

// WriteCSV writes a header row and one line per result row.
func WriteCSV(w io.Writer, cols []string, rows []query.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}
	rec := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			rec[i] = r.String(c)
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush CSV")
}

// WriteXLSX writes a workbook with one sheet holding the results. Numeric
// values become numeric cells.
func WriteXLSX(w io.Writer, sheetName string, cols []string, rows []query.Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %q", sheetName)
	}

	header := sheet.AddRow()
	for _, c := range cols {
		header.AddCell().SetString(c)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, c := range cols {
			setCell(row.AddCell(), r, c)
		}
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

func setCell(cell *xlsx.Cell, r query.Row, col string) {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return
	}
	switch x := v.(type) {
	case string:
		cell.SetString(x)
	case bool:
		cell.SetBool(x)
	case int64:
		cell.SetInt64(x)
	case int:
		cell.SetInt64(int64(x))
	default:
		if f, ok := r.Float(col); ok {
			cell.SetFloat(f)
			return
		}
		cell.SetString(r.String(col))
	}
}

// WriteFile writes rows to path in the format its extension names.
func WriteFile(path, sheetName string, cols []string, rows []query.Row) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}

	switch format {
	case FormatXLSX:
		err = WriteXLSX(out, sheetName, cols, rows)
	default:
		err = WriteCSV(out, cols, rows)
	}
	if err != nil {
		_ = out.Close()
		return err
	}
	return eris.Wrapf(out.Close(), "export: close %s", path)
}
