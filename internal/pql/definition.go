// Package pql implements the pipeline query language: document model,
// schema validation, step execution and multi-source aggregation.
package pql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StepKind is the "step" discriminator of a pipeline step.
type StepKind string

const (
	StepExtract  StepKind = "extract"
	StepTraverse StepKind = "traverse"
	StepGetIndex StepKind = "get_index"
	StepMath     StepKind = "math"
	StepQuerySQL StepKind = "query.sql"

	customPrefix = "custom."
)

// IsCustom reports whether the kind names a registered extension.
func (k StepKind) IsCustom() bool {
	return strings.HasPrefix(string(k), customPrefix)
}

// Definition is a parsed PQL document.
type Definition struct {
	Name      string     `json:"name"`
	Version   string     `json:"psql_version"`
	Sources   []Source   `json:"sources"`
	Aggregate *Aggregate `json:"aggregate,omitempty"`
}

// Source is one named pipeline.
type Source struct {
	Name     string `json:"name"`
	Pipeline []Step `json:"pipeline"`
}

// AggregateMethod names a cross-source reduction.
type AggregateMethod string

const (
	AggregateMean     AggregateMethod = "mean"
	AggregateMedian   AggregateMethod = "median"
	AggregateMax      AggregateMethod = "max"
	AggregateMin      AggregateMethod = "min"
	AggregateQuerySQL AggregateMethod = "query.sql"
)

// Aggregate combines the final values of all sources.
type Aggregate struct {
	Method AggregateMethod `json:"method"`
	// Params holds one parser kind per source for query.sql; null entries
	// pass the value through.
	Params []*string `json:"params,omitempty"`
	Query  string    `json:"query,omitempty"`
	Result bool      `json:"result,omitempty"`
}

// Step is one pipeline step. Fields not used by a kind stay zero; Raw keeps
// the full object for custom steps.
type Step struct {
	Kind      StepKind          `json:"step"`
	Method    string            `json:"method,omitempty"`
	URI       string            `json:"uri,omitempty"`
	Query     string            `json:"query,omitempty"`
	Address   string            `json:"address,omitempty"`
	Params    json.RawMessage   `json:"params,omitempty"`
	Direction string            `json:"direction,omitempty"`
	Result    *bool             `json:"result,omitempty"`
	Path      string            `json:"path,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the raw object.
func (s *Step) UnmarshalJSON(data []byte) error {
	type plain Step
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	raw, err := decodeTree(data)
	if err != nil {
		return err
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("step must be an object")
	}
	*s = Step(p)
	s.Raw = obj
	return nil
}

// DecodeParams decodes the step's params into dst.
func (s Step) DecodeParams(dst interface{}) error {
	if len(s.Params) == 0 {
		return fmt.Errorf("step %s: params missing", s.Kind)
	}
	dec := json.NewDecoder(bytes.NewReader(s.Params))
	dec.UseNumber()
	return dec.Decode(dst)
}

// ParamsTree returns params as a decoded JSON tree, or nil when absent.
func (s Step) ParamsTree() (interface{}, error) {
	if len(s.Params) == 0 {
		return nil, nil
	}
	return decodeTree(s.Params)
}

// DecodeDefinition parses a PQL document. It does not validate it.
func DecodeDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func decodeTree(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// TemplateDefinition is the starter document offered for new definitions.
var TemplateDefinition = Definition{
	Name:    "My job name",
	Version: "0.1",
	Sources: []Source{
		{Name: "Pipeline 1 name", Pipeline: []Step{{Kind: StepExtract, Method: "http.get", URI: "https://my-crypto-api.com/tickers"}}},
		{Name: "Pipeline 2 name", Pipeline: []Step{{Kind: StepExtract, Method: "http.get", URI: "https://my-crypto-api.com/tickers"}}},
	},
	Aggregate: &Aggregate{Method: AggregateMean},
}
