package pql

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql/tabular"
)

// divisionPlaces bounds the scale of quotients that do not terminate.
const divisionPlaces = 28

func (p *Pipeline) traverse(step Step, i int) (Value, error) {
	prev, err := p.ValueAt(i - 1)
	if err != nil {
		return nil, err
	}
	tree := treeOf(prev)

	switch step.Method {
	case "json":
		var keys []interface{}
		if err := step.DecodeParams(&keys); err != nil {
			return nil, apperrors.Argument("traverse params must be a list of keys: %v", err)
		}
		curr := tree
		for _, key := range keys {
			next, err := lookup(curr, key)
			if err != nil {
				return nil, err
			}
			curr = next
		}
		return FromJSON(curr), nil
	case "jsonpath":
		if step.Path == "" {
			return nil, apperrors.Argument("traverse jsonpath requires a path")
		}
		out, err := jsonpath.Get(step.Path, tree)
		if err != nil {
			return nil, apperrors.ParseData(err, "jsonpath %s did not match", step.Path)
		}
		return FromJSON(out), nil
	default:
		return nil, apperrors.MethodNotFound("handler for traverse step method %q not found", step.Method)
	}
}

// lookup indexes an object by key or an array by position.
func lookup(curr interface{}, key interface{}) (interface{}, error) {
	switch node := curr.(type) {
	case map[string]interface{}:
		name := keyString(key)
		v, ok := node[name]
		if !ok {
			return nil, apperrors.ParseData(nil, "key %q not found", name)
		}
		return v, nil
	case []interface{}:
		idx, err := strconv.Atoi(keyString(key))
		if err != nil {
			return nil, apperrors.ParseData(err, "key %q cannot index a list", keyString(key))
		}
		return indexList(node, idx)
	default:
		return nil, apperrors.ParseData(nil, "cannot traverse key %q of a %T", keyString(key), curr)
	}
}

func keyString(key interface{}) string {
	switch k := key.(type) {
	case string:
		return k
	case json.Number:
		return k.String()
	default:
		b, _ := json.Marshal(k)
		return string(b)
	}
}

// indexList applies Python-style indexing; negative positions count from
// the end.
func indexList(list []interface{}, idx int) (interface{}, error) {
	pos := idx
	if pos < 0 {
		pos += len(list)
	}
	if pos < 0 || pos >= len(list) {
		return nil, apperrors.ParseData(nil, "index %d out of range for list of length %d", idx, len(list))
	}
	return list[pos], nil
}

func (p *Pipeline) getIndex(step Step, i int) (Value, error) {
	prev, err := p.ValueAt(i - 1)
	if err != nil {
		return nil, err
	}
	var n json.Number
	if err := step.DecodeParams(&n); err != nil {
		return nil, apperrors.Argument("get_index params must be an integer: %v", err)
	}
	idx, err := strconv.Atoi(n.String())
	if err != nil {
		return nil, apperrors.Argument("get_index params must be an integer, got %s", n)
	}

	list, ok := treeOf(prev).([]interface{})
	if !ok {
		return nil, apperrors.ParseData(nil, "get_index needs a list, previous step returned %s", prev.Kind())
	}
	v, err := indexList(list, idx)
	if err != nil {
		return nil, err
	}
	return FromJSON(v), nil
}

func (p *Pipeline) math(step Step, i int) (Value, error) {
	prev, err := p.ValueAt(i - 1)
	if err != nil {
		return nil, err
	}
	curr, err := ToDecimal(prev)
	if err != nil {
		return nil, err
	}
	var n json.Number
	if err := step.DecodeParams(&n); err != nil {
		return nil, apperrors.Argument("math params must be a number: %v", err)
	}
	operand, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil, apperrors.Argument("math params must be a number, got %s", n)
	}

	reverse := step.Direction == "reverse"
	var out decimal.Decimal
	switch step.Method {
	case "mul":
		out = curr.Mul(operand)
	case "add":
		out = curr.Add(operand)
	case "sub":
		if reverse {
			out = operand.Sub(curr)
		} else {
			out = curr.Sub(operand)
		}
	case "div":
		num, den := curr, operand
		if reverse {
			num, den = operand, curr
		}
		if den.IsZero() {
			return nil, apperrors.ErrDivisionByZero
		}
		out = num.DivRound(den, divisionPlaces)
	default:
		return nil, apperrors.MethodNotFound("handler for math step method %q not found", step.Method)
	}

	approx := false
	if num, ok := prev.(Number); ok {
		approx = num.Approx
	}
	return Number{Dec: out, Approx: approx}, nil
}

func (p *Pipeline) querySQL(ctx context.Context, step Step, i int) (Value, error) {
	prev, err := p.ValueAt(i - 1)
	if err != nil {
		return nil, err
	}
	tbl, err := tabular.Convert(prev.Native(), tabular.Parser(step.Method))
	if err != nil {
		return nil, err
	}
	result := step.Result != nil && *step.Result
	return runQuery(ctx, map[string]*tabular.Table{"data": tbl}, step.Query, result, tabular.WithAlias("response", "data"))
}

// runQuery executes query and, when result is set, reduces it to the cell at
// row 0, column 0.
func runQuery(ctx context.Context, tables map[string]*tabular.Table, query string, result bool, opts ...tabular.Option) (Value, error) {
	out, err := tabular.Query(ctx, tables, query, opts...)
	if err != nil {
		return nil, err
	}
	if !result {
		return Table{Table: out}, nil
	}
	cell, err := out.Scalar()
	if err != nil {
		return nil, apperrors.UserQuery(err, "query produced no result: %s", truncate(query, 100))
	}
	return FromCell(cell), nil
}

// treeOf returns the JSON-shaped form of v for traversal.
func treeOf(v Value) interface{} {
	switch x := v.(type) {
	case Table:
		records := x.Records()
		out := make([]interface{}, len(records))
		for i, r := range records {
			out[i] = r
		}
		return out
	default:
		return v.Native()
	}
}
