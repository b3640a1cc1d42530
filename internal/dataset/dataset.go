// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dataset reads the findings table and writes prediction columns
// back to it. Workbooks (.xlsx) are edited in place so formatting and other
// sheets survive; CSV files are rewritten whole.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for extensions other than .xlsx and .csv.
var ErrUnsupportedFormat = errors.New("unsupported table format")

type format int

const (
	formatXLSX format = iota
	formatCSV
)

const utf8BOM = "\ufeff"

// Table is a header row plus data rows. Only the first sheet of a workbook
// is read.
type Table struct {
	format format
	header []string
	rows   [][]string

	book  *excelize.File
	sheet string
}

// Load opens path. The first row is the header.
func Load(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return loadXLSX(path)
	case ".csv":
		return loadCSV(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func loadXLSX(path string) (*Table, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		book.Close()
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	records, err := book.GetRows(sheets[0])
	if err != nil {
		book.Close()
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	t, err := fromRecords(records)
	if err != nil {
		book.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.format = formatXLSX
	t.book = book
	t.sheet = sheets[0]
	return t, nil
}

func loadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], utf8BOM)
	}
	t, err := fromRecords(records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.format = formatCSV
	return t, nil
}

// fromRecords splits off the header and pads ragged rows to its width.
func fromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, errors.New("table has no header row")
	}
	t := &Table{header: records[0], rows: records[1:]}
	for i, row := range t.rows {
		if len(row) < len(t.header) {
			padded := make([]string, len(t.header))
			copy(padded, row)
			t.rows[i] = padded
		}
	}
	return t, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Header returns a copy of the header row.
func (t *Table) Header() []string {
	return append([]string(nil), t.header...)
}

func (t *Table) columnIndex(name string) int {
	for i, h := range t.header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

// Column returns the values of the named column in row order.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.columnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found (have %s)", name, strings.Join(t.header, ", "))
	}
	out := make([]string, len(t.rows))
	for i, row := range t.rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// SetColumn writes values under name, replacing an existing column of the
// same name or appending a new one. Numeric values are stored as numbers in
// workbooks; empty strings leave the cell empty.
func (t *Table) SetColumn(name string, values []string) error {
	if len(values) != len(t.rows) {
		return fmt.Errorf("column %q has %d values for %d rows", name, len(values), len(t.rows))
	}
	idx := t.columnIndex(name)
	if idx < 0 {
		idx = len(t.header)
		t.header = append(t.header, name)
	}
	for i := range t.rows {
		for len(t.rows[i]) <= idx {
			t.rows[i] = append(t.rows[i], "")
		}
		t.rows[i][idx] = values[i]
	}

	if t.book == nil {
		return nil
	}
	return t.writeBookColumn(idx, name, values)
}

func (t *Table) writeBookColumn(idx int, name string, values []string) error {
	cell, err := excelize.CoordinatesToCellName(idx+1, 1)
	if err != nil {
		return err
	}
	if err := t.book.SetCellStr(t.sheet, cell, name); err != nil {
		return err
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(idx+1, i+2)
		if err != nil {
			return err
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			err = t.book.SetCellFloat(t.sheet, cell, f, -1, 64)
			if err != nil {
				return err
			}
			continue
		}
		if err := t.book.SetCellValue(t.sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the table to path in the table's own format.
func (t *Table) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if t.format == formatXLSX {
		if err := t.book.SaveAs(path); err != nil {
			return fmt.Errorf("saving workbook %s: %w", path, err)
		}
		return nil
	}
	return t.saveCSV(path)
}

func (t *Table) saveCSV(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(t.header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(t.rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Close releases the workbook, if any.
func (t *Table) Close() error {
	if t.book == nil {
		return nil
	}
	return t.book.Close()
}

// OutputColumn names the prediction column for a model.
func OutputColumn(prefix, model string) string {
	return prefix + model
}
