package pql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
)

type obj = map[string]interface{}

var blockSchema = obj{"oneOf": []interface{}{obj{"const": "latest"}, obj{"type": "integer"}}}

func stepExtractHTTP() obj {
	return obj{
		"type": "object",
		"properties": obj{
			"step":    obj{"const": "extract"},
			"method":  obj{"enum": []interface{}{"http.get", "http.post"}},
			"uri":     obj{"type": "string"},
			"headers": obj{"type": "object", "additionalProperties": obj{"type": "string"}},
		},
		"required": []interface{}{"step", "method", "uri"},
		"if":       obj{"properties": obj{"method": obj{"const": "http.post"}}},
		"then":     obj{"properties": obj{"params": obj{"type": "object"}}, "required": []interface{}{"params"}},
	}
}

func stepExtractSQL() obj {
	return obj{
		"type": "object",
		"properties": obj{
			"step":   obj{"const": "extract"},
			"method": obj{"enum": []interface{}{"sql.postgres", "sql.mssql", "sql.mysql", "sql.sqlite"}},
			"uri":    obj{"type": "string"},
			"query":  obj{"type": "string"},
		},
		"required": []interface{}{"step", "method", "uri", "query"},
	}
}

func stepExtractEth() obj {
	return obj{
		"type": "object",
		"properties": obj{
			"step":    obj{"const": "extract"},
			"method":  obj{"enum": []interface{}{"eth.balance", "eth.function"}},
			"address": obj{"type": "string"},
		},
		"required": []interface{}{"step", "method", "address"},
		"if":       obj{"properties": obj{"method": obj{"const": "eth.balance"}}},
		"then": obj{
			"properties": obj{
				"params": obj{
					"type": "object",
					"properties": obj{
						"block":             blockSchema,
						"num_confirmations": obj{"type": "integer"},
					},
					"required": []interface{}{"block"},
				},
			},
			"required": []interface{}{"params"},
		},
		"else": obj{
			"properties": obj{
				"params": obj{
					"type": "object",
					"properties": obj{
						"function":          obj{"type": "string"},
						"args":              obj{"type": "array", "items": obj{"type": "string"}},
						"num_confirmations": obj{"type": "integer"},
						"block":             blockSchema,
					},
					"required": []interface{}{"function", "args", "block"},
				},
			},
			"required": []interface{}{"params"},
		},
	}
}

func stepTraverse() obj {
	return obj{
		"type": "object",
		"properties": obj{
			"step":   obj{"const": "traverse"},
			"method": obj{"enum": []interface{}{"json", "jsonpath"}},
		},
		"required": []interface{}{"step", "method"},
		"if":       obj{"properties": obj{"method": obj{"const": "jsonpath"}}},
		"then":     obj{"properties": obj{"path": obj{"type": "string"}}, "required": []interface{}{"path"}},
		"else": obj{
			"properties": obj{
				"params": obj{"type": "array", "items": obj{"type": []interface{}{"string", "integer"}}},
			},
			"required": []interface{}{"params"},
		},
	}
}

func stepGetIndex() obj {
	return obj{
		"type": "object",
		"properties": obj{
			"step":   obj{"const": "get_index"},
			"params": obj{"type": "integer"},
		},
		"required": []interface{}{"step", "params"},
	}
}

func stepMath() obj {
	return obj{
		"type": "object",
		"properties": obj{
			"step":      obj{"const": "math"},
			"method":    obj{"enum": []interface{}{"mul", "add", "sub", "div"}},
			"params":    obj{"type": "number"},
			"direction": obj{"const": "reverse"},
		},
		"required": []interface{}{"step", "method", "params"},
	}
}

func stepQuerySQL() obj {
	return obj{
		"type": "object",
		"properties": obj{
			"step":   obj{"const": "query.sql"},
			"method": obj{"enum": []interface{}{"json", "list", "dict", nil}},
			"query":  obj{"type": "string"},
			"result": obj{"type": "boolean"},
		},
		"required": []interface{}{"step", "query"},
	}
}

func aggregateSchema() obj {
	return obj{
		"type": "object",
		"properties": obj{
			"method": obj{"enum": []interface{}{"mean", "median", "max", "min", "query.sql"}},
		},
		"required": []interface{}{"method"},
		"if":       obj{"properties": obj{"method": obj{"const": "query.sql"}}},
		"then": obj{
			"properties": obj{
				"params": obj{"type": "array", "items": obj{"enum": []interface{}{"json", "list", "dict", nil}}},
				"query":  obj{"type": "string"},
				"result": obj{"type": "boolean"},
			},
			"required": []interface{}{"params", "query"},
		},
	}
}

// documentSchema assembles the full document schema with the given custom
// step schemas appended to the step alternatives.
func documentSchema(custom []map[string]interface{}) obj {
	steps := []interface{}{
		stepExtractHTTP(),
		stepExtractSQL(),
		stepExtractEth(),
		stepTraverse(),
		stepGetIndex(),
		stepMath(),
		stepQuerySQL(),
	}
	for _, c := range custom {
		steps = append(steps, c)
	}

	source := obj{
		"type": "object",
		"properties": obj{
			"name": obj{"type": "string"},
			"pipeline": obj{
				"type":     "array",
				"minItems": 1,
				"items":    obj{"oneOf": steps},
			},
		},
		"required": []interface{}{"name", "pipeline"},
	}

	return obj{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": obj{
			"name":         obj{"type": "string"},
			"psql_version": obj{"type": "string"},
			"sources":      obj{"type": "array", "minItems": 1, "items": source},
			"aggregate":    aggregateSchema(),
		},
		"required": []interface{}{"name", "psql_version", "sources"},
	}
}

// Schema validates PQL documents.
type Schema struct {
	schema *gojsonschema.Schema
}

// NewSchema compiles the document schema including every custom step schema
// contributed by reg.
func NewSchema(reg *Registry) (*Schema, error) {
	var custom []map[string]interface{}
	if reg != nil {
		custom = reg.Schemas()
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(documentSchema(custom)))
	if err != nil {
		return nil, fmt.Errorf("compile pql schema: %w", err)
	}
	return &Schema{schema: compiled}, nil
}

// Validate checks raw against the schema and reports every violation in one
// PqlValidationError.
func (s *Schema) Validate(raw []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return apperrors.PqlDecoding("document is not valid JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	seen := map[string]bool{}
	for _, desc := range result.Errors() {
		msg := fmt.Sprintf("%s: %s", desc.Field(), desc.Description())
		if seen[msg] {
			continue
		}
		seen[msg] = true
		violations = append(violations, msg)
	}
	sort.Strings(violations)
	return apperrors.PqlValidation("%s", strings.Join(violations, "; "))
}
