// Package table holds a small in-memory tabular structure with a CSV
// codec. It is the shape Dropbox CSV downloads are parsed into and the
// shape the upload convenience serializes from.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Table is a header row plus data rows. Every row has exactly
// len(Columns) cells; Read rejects ragged input.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Read parses CSV from r. The first record is the header. An empty
// input (no header) is an error; a header-only input yields a Table
// with zero rows.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("table: parsing CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("table: empty CSV input")
	}

	return &Table{
		Columns: records[0],
		Rows:    records[1:],
	}, nil
}

// Write serializes the table as CSV, header first.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("table: writing header: %w", err)
	}

	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("table: writing rows: %w", err)
	}

	cw.Flush()

	return cw.Error()
}

// Lookup returns the index of the named column, or -1 if absent.
func (t *Table) Lookup(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}

	return -1
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}
