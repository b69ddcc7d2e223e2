// Package custom provides custom.* pipeline steps: the built-in my_add step
// and steps scripted in JavaScript (goja) or expr-lang from configuration.
package custom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/paralink-network/paralink-node/internal/config"
	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql"
)

// MyAddID is the identifier of the built-in addition step.
const MyAddID = "custom.my_add"

// MyAdd adds its numeric params to the previous step's value.
type MyAdd struct{}

func (MyAdd) Identifier() string { return MyAddID }

func (MyAdd) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"step":   map[string]interface{}{"const": MyAddID},
			"params": map[string]interface{}{"type": "number"},
		},
		"required": []interface{}{"step", "params"},
	}
}

func (MyAdd) Execute(_ context.Context, step pql.Step, index int, p *pql.Pipeline) (pql.Value, error) {
	prev, err := p.ValueAt(index - 1)
	if err != nil {
		return nil, err
	}
	curr, err := pql.ToDecimal(prev)
	if err != nil {
		return nil, err
	}
	var n json.Number
	if err := step.DecodeParams(&n); err != nil {
		return nil, apperrors.Argument("%s params must be a number: %v", MyAddID, err)
	}
	operand, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil, apperrors.Argument("%s params must be a number, got %s", MyAddID, n)
	}
	approx := false
	if num, ok := prev.(pql.Number); ok {
		approx = num.Approx
	}
	return pql.Number{Dec: curr.Add(operand), Approx: approx}, nil
}

// FromConfig builds the registry used by the node: the built-in steps plus
// every scripted step in cfgs.
func FromConfig(cfgs []config.CustomStepConfig) (*pql.Registry, error) {
	reg, err := pql.NewRegistry(MyAdd{})
	if err != nil {
		return nil, err
	}
	for _, c := range cfgs {
		var step pql.CustomStep
		switch c.Language {
		case "js":
			step, err = NewScript(c.Identifier, c.Source)
		case "expr":
			step, err = NewExpression(c.Identifier, c.Source)
		default:
			err = fmt.Errorf("unsupported language %q", c.Language)
		}
		if err != nil {
			return nil, fmt.Errorf("custom step %s: %w", c.Identifier, err)
		}
		if err := reg.Register(step); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// scriptedSchema accepts the step discriminator plus arbitrary params.
func scriptedSchema(id string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"step": map[string]interface{}{"const": id},
		},
		"required": []interface{}{"step"},
	}
}

// scriptInputs returns the previous value and the params in plain Go form.
func scriptInputs(step pql.Step, index int, p *pql.Pipeline) (interface{}, interface{}, error) {
	var input interface{}
	if index > 0 {
		prev, err := p.ValueAt(index - 1)
		if err != nil {
			return nil, nil, err
		}
		input = plain(prev)
	}
	params, err := step.ParamsTree()
	if err != nil {
		return nil, nil, apperrors.Argument("%s params: %v", step.Kind, err)
	}
	return input, plainTree(params), nil
}

// plain converts a step value to what scripts expect: numbers as float64,
// tables as lists of records.
func plain(v pql.Value) interface{} {
	switch x := v.(type) {
	case pql.Number:
		return x.Dec.InexactFloat64()
	case pql.Table:
		records := x.Records()
		out := make([]interface{}, len(records))
		for i, r := range records {
			out[i] = plainTree(r)
		}
		return out
	default:
		return plainTree(v.Native())
	}
}

func plainTree(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = plainTree(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = plainTree(val)
		}
		return out
	default:
		return v
	}
}

// result converts a script's return value. Script floats are exact as far as
// the node is concerned.
func result(v interface{}) pql.Value {
	switch x := v.(type) {
	case float64:
		return pql.Number{Dec: decimal.NewFromFloat(x)}
	case float32:
		return pql.Number{Dec: decimal.NewFromFloat32(x)}
	case int:
		return pql.NumberFromInt(int64(x))
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(x)
		if err != nil {
			return pql.FromJSON(x)
		}
		var tree interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&tree); err != nil {
			return pql.FromJSON(x)
		}
		return pql.FromJSON(tree)
	default:
		return pql.FromJSON(v)
	}
}
