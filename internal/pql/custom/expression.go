package custom

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql"
)

// Expression is a custom step written as an expr-lang expression over
// input and params.
type Expression struct {
	id      string
	program *vm.Program
}

// NewExpression compiles source.
func NewExpression(id, source string) (*Expression, error) {
	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return &Expression{id: id, program: program}, nil
}

func (e *Expression) Identifier() string             { return e.id }
func (e *Expression) Schema() map[string]interface{} { return scriptedSchema(e.id) }

func (e *Expression) Execute(_ context.Context, step pql.Step, index int, p *pql.Pipeline) (pql.Value, error) {
	input, params, err := scriptInputs(step, index, p)
	if err != nil {
		return nil, err
	}
	env := map[string]interface{}{
		"input":  input,
		"params": params,
	}
	out, err := expr.Run(e.program, env)
	if err != nil {
		return nil, apperrors.Argument("evaluate %s: %v", e.id, err)
	}
	if out == nil {
		return pql.Null{}, nil
	}
	return result(out), nil
}
