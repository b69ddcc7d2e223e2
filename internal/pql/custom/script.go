package custom

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql"
)

// ScriptTimeout bounds a single JavaScript step.
const ScriptTimeout = time.Second

const scriptEntryPoint = "run"

// Script is a custom step implemented in JavaScript. The source must define
// run(input, params); its return value becomes the step's value.
type Script struct {
	id      string
	program *goja.Program
}

// NewScript compiles source once; each execution gets a fresh runtime.
func NewScript(id, source string) (*Script, error) {
	program, err := goja.Compile(id, source, true)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	return &Script{id: id, program: program}, nil
}

func (s *Script) Identifier() string             { return s.id }
func (s *Script) Schema() map[string]interface{} { return scriptedSchema(s.id) }

func (s *Script) Execute(ctx context.Context, step pql.Step, index int, p *pql.Pipeline) (pql.Value, error) {
	input, params, err := scriptInputs(step, index, p)
	if err != nil {
		return nil, err
	}

	vm := goja.New()

	timeout := ScriptTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("execution timeout")
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer close(done)

	if _, err := vm.RunProgram(s.program); err != nil {
		return nil, apperrors.Argument("%s: load script: %v", s.id, err)
	}
	run, ok := goja.AssertFunction(vm.Get(scriptEntryPoint))
	if !ok {
		return nil, apperrors.CustomNotImplemented("%s does not define %s(input, params)", s.id, scriptEntryPoint)
	}
	out, err := run(goja.Undefined(), vm.ToValue(input), vm.ToValue(params))
	if err != nil {
		return nil, apperrors.Argument("%s: %v", s.id, err)
	}
	if goja.IsUndefined(out) || goja.IsNull(out) {
		return pql.Null{}, nil
	}
	return result(out.Export()), nil
}
