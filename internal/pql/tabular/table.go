// Package tabular turns step output into row/column tables and runs ad-hoc
// SQL over them.
package tabular

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Table is an ordered set of named columns and rows. Cells hold nil, int64,
// float64, string or bool.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Append adds a row; missing trailing cells are filled with nil.
func (t *Table) Append(cells ...interface{}) {
	row := make([]interface{}, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Scalar returns the cell at row 0, column 0.
func (t *Table) Scalar() (interface{}, error) {
	if len(t.Rows) == 0 || len(t.Columns) == 0 {
		return nil, fmt.Errorf("query returned no rows")
	}
	return t.Rows[0][0], nil
}

// Records returns the rows as column-keyed maps.
func (t *Table) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// MarshalJSON encodes the table as an array of row objects with keys in
// column order.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for r, row := range t.Rows {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, col := range t.Columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(col)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			val, err := json.Marshal(row[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// normalizeCell converts a decoded JSON value into a storable cell.
// Nested objects and arrays are kept as JSON text.
func normalizeCell(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case json.Number:
		if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(x.String(), 64); err == nil {
			return f, nil
		}
		return x.String(), nil
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return nil, fmt.Errorf("unsupported cell type %T", v)
	}
}
