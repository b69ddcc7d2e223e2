package pql

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql/tabular"
)

// Kind discriminates Value variants.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindBool
	KindTable
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindTable:
		return "table"
	case KindStructured:
		return "structured"
	}
	return "unknown"
}

// Value is the output of a pipeline step.
type Value interface {
	Kind() Kind
	// Native returns the plain Go form used for JSON encoding and tabulation.
	Native() interface{}
}

// Number is an exact decimal. Approx marks values that came out of a binary
// float (SQL REAL); integral approximate values keep a ".0" suffix on the wire.
type Number struct {
	Dec    decimal.Decimal
	Approx bool
}

type Text string

type Bool bool

type Null struct{}

// Table wraps a tabular result.
type Table struct {
	*tabular.Table
}

// Structured is a JSON object or array. Leaves are json.Number, string, bool
// or nil.
type Structured struct {
	Tree interface{}
}

func (Number) Kind() Kind     { return KindNumber }
func (Text) Kind() Kind       { return KindText }
func (Bool) Kind() Kind       { return KindBool }
func (Null) Kind() Kind       { return KindNull }
func (Table) Kind() Kind      { return KindTable }
func (Structured) Kind() Kind { return KindStructured }

func (n Number) Native() interface{}     { return json.Number(n.String()) }
func (t Text) Native() interface{}       { return string(t) }
func (b Bool) Native() interface{}       { return bool(b) }
func (Null) Native() interface{}         { return nil }
func (t Table) Native() interface{}      { return t.Table }
func (s Structured) Native() interface{} { return s.Tree }

// String renders the decimal; integral approximate values get ".0".
func (n Number) String() string {
	s := n.Dec.String()
	if n.Approx && !strings.ContainsAny(s, ".eE") {
		return s + ".0"
	}
	return s
}

// NumberFromInt returns an exact Number.
func NumberFromInt(i int64) Number {
	return Number{Dec: decimal.NewFromInt(i)}
}

// NumberFromBig returns an exact Number from a big integer.
func NumberFromBig(i *big.Int) Number {
	return Number{Dec: decimal.NewFromBigInt(i, 0)}
}

// NumberFromFloat returns an approximate Number.
func NumberFromFloat(f float64) Number {
	return Number{Dec: decimal.NewFromFloat(f), Approx: true}
}

// FromJSON converts a decoded JSON value (decoded with UseNumber) into a Value.
func FromJSON(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return Number{Dec: d}
		}
		return Text(x.String())
	case string:
		return Text(x)
	case bool:
		return Bool(x)
	case int:
		return NumberFromInt(int64(x))
	case int64:
		return NumberFromInt(x)
	case float64:
		return NumberFromFloat(x)
	case *big.Int:
		return NumberFromBig(x)
	case *tabular.Table:
		return Table{Table: x}
	case map[string]interface{}, []interface{}:
		return Structured{Tree: x}
	default:
		return Text(fmt.Sprint(x))
	}
}

// FromCell converts a table cell into a Value. SQL REAL cells become
// approximate numbers.
func FromCell(v interface{}) Value {
	return FromJSON(v)
}

// ToDecimal coerces numbers and numeric text to an exact decimal.
func ToDecimal(v Value) (decimal.Decimal, error) {
	switch x := v.(type) {
	case Number:
		return x.Dec, nil
	case Text:
		d, err := decimal.NewFromString(strings.TrimSpace(string(x)))
		if err != nil {
			return decimal.Zero, apperrors.ParseData(err, "cannot convert %q to a decimal", truncate(string(x), 64))
		}
		return d, nil
	case Bool:
		if x {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, nil
	case Table:
		cell, err := x.Scalar()
		if err != nil {
			return decimal.Zero, apperrors.ParseData(err, "cannot convert an empty table to a decimal")
		}
		return ToDecimal(FromCell(cell))
	default:
		return decimal.Zero, apperrors.ParseData(nil, "cannot convert %s value to a decimal", v.Kind())
	}
}

// Format renders a Value the way it is returned to RPC callers and written
// on-chain: numbers as decimal strings, tables as JSON records.
func Format(v Value) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case Number:
		return x.String(), nil
	case Text:
		return string(x), nil
	case Bool:
		return strconv.FormatBool(bool(x)), nil
	case Null:
		return "null", nil
	case Table:
		raw, err := json.Marshal(x.Table)
		if err != nil {
			return "", fmt.Errorf("encode table: %w", err)
		}
		return string(raw), nil
	case Structured:
		raw, err := json.Marshal(x.Tree)
		if err != nil {
			return "", fmt.Errorf("encode structured value: %w", err)
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
