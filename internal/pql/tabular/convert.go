package tabular

import (
	"sort"
	"strconv"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
)

// Parser names a conversion from structured data to a table.
type Parser string

const (
	ParserJSON Parser = "json"
	ParserList Parser = "list"
	ParserDict Parser = "dict"
	ParserNone Parser = ""
)

// Convert applies the named parser to data. ParserNone requires data to be a
// *Table already.
func Convert(data interface{}, parser Parser) (*Table, error) {
	var (
		t   *Table
		err error
	)
	switch parser {
	case ParserJSON:
		t, err = FromJSON(data)
	case ParserList:
		t, err = FromList(data)
	case ParserDict:
		t, err = FromDict(data)
	case ParserNone:
		tbl, ok := data.(*Table)
		if !ok {
			return nil, apperrors.ParseData(nil, "failed to parse data %s without a parser: value is not a table", preview(data))
		}
		return tbl, nil
	default:
		return nil, apperrors.ParseData(nil, "parser %q not found", string(parser))
	}
	if err != nil {
		return nil, apperrors.ParseData(err, "failed to parse data %s using parser %s", preview(data), string(parser))
	}
	return t, nil
}

// FromJSON flattens an object (or a list of objects) into rows whose column
// names are the dot-joined key paths.
func FromJSON(data interface{}) (*Table, error) {
	var records []map[string]interface{}
	switch x := data.(type) {
	case map[string]interface{}:
		records = []map[string]interface{}{x}
	case []interface{}:
		for i, item := range x {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, errNotObject(i, item)
			}
			records = append(records, obj)
		}
	case *Table:
		return x, nil
	default:
		return nil, errUnsupported(data)
	}

	t := &Table{}
	index := map[string]int{}
	flat := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		row := map[string]interface{}{}
		var order []string
		flatten("", rec, row, &order)
		for _, col := range order {
			if _, ok := index[col]; !ok {
				index[col] = len(t.Columns)
				t.Columns = append(t.Columns, col)
			}
		}
		flat = append(flat, row)
	}
	for _, row := range flat {
		cells := make([]interface{}, len(t.Columns))
		for col, v := range row {
			cell, err := normalizeCell(v)
			if err != nil {
				return nil, err
			}
			cells[index[col]] = cell
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

func flatten(prefix string, obj map[string]interface{}, out map[string]interface{}, order *[]string) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// Decoded maps carry no order; sort for stable column order.
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := obj[k].(map[string]interface{}); ok && len(nested) > 0 {
			flatten(name, nested, out, order)
			continue
		}
		out[name] = obj[k]
		*order = append(*order, name)
	}
}

// FromList wraps the value as a single row. A list yields columns "0".."n-1",
// an object yields one column per key, and a scalar yields column "0".
func FromList(data interface{}) (*Table, error) {
	switch x := data.(type) {
	case []interface{}:
		t := &Table{Columns: make([]string, len(x))}
		row := make([]interface{}, len(x))
		for i, v := range x {
			t.Columns[i] = strconv.Itoa(i)
			cell, err := normalizeCell(v)
			if err != nil {
				return nil, err
			}
			row[i] = cell
		}
		t.Rows = [][]interface{}{row}
		return t, nil
	case map[string]interface{}:
		keys := sortedKeys(x)
		t := &Table{Columns: keys}
		row := make([]interface{}, len(keys))
		for i, k := range keys {
			cell, err := normalizeCell(x[k])
			if err != nil {
				return nil, err
			}
			row[i] = cell
		}
		t.Rows = [][]interface{}{row}
		return t, nil
	case *Table:
		return x, nil
	default:
		cell, err := normalizeCell(x)
		if err != nil {
			return nil, err
		}
		return &Table{Columns: []string{"0"}, Rows: [][]interface{}{{cell}}}, nil
	}
}

// FromDict builds a columnar table: each key is a column and each value a
// list of cells. All lists must have the same length. An object of scalars
// becomes a single row.
func FromDict(data interface{}) (*Table, error) {
	obj, ok := data.(map[string]interface{})
	if !ok {
		if t, ok := data.(*Table); ok {
			return t, nil
		}
		return nil, errUnsupported(data)
	}
	keys := sortedKeys(obj)
	t := &Table{Columns: keys}

	length, lists := -1, 0
	for _, k := range keys {
		list, isList := obj[k].([]interface{})
		if !isList {
			continue
		}
		lists++
		if length >= 0 && len(list) != length {
			return nil, errRagged(k)
		}
		length = len(list)
	}

	if lists == 0 {
		if len(keys) == 0 {
			return t, nil
		}
		row := make([]interface{}, len(keys))
		for i, k := range keys {
			cell, err := normalizeCell(obj[k])
			if err != nil {
				return nil, err
			}
			row[i] = cell
		}
		t.Rows = [][]interface{}{row}
		return t, nil
	}
	if lists != len(keys) {
		return nil, errRagged(keys[0])
	}

	for r := 0; r < length; r++ {
		row := make([]interface{}, len(keys))
		for i, k := range keys {
			cell, err := normalizeCell(obj[k].([]interface{})[r])
			if err != nil {
				return nil, err
			}
			row[i] = cell
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
