package pql

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/metrics"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Extractor fetches data for extract steps of one method family.
type Extractor interface {
	Extract(ctx context.Context, step Step) (Value, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, step Step) (Value, error)

func (f ExtractorFunc) Extract(ctx context.Context, step Step) (Value, error) { return f(ctx, step) }

// Extractors maps a method family ("http", "sql", "eth") to its handler.
type Extractors map[string]Extractor

// Pipeline executes the steps of one source and records every step result.
type Pipeline struct {
	source     Source
	extractors Extractors
	registry   *Registry
	log        *logger.Logger

	results []Value
}

// NewPipeline prepares source for execution.
func NewPipeline(source Source, extractors Extractors, registry *Registry, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewDefault("pql-pipeline")
	}
	return &Pipeline{
		source:     source,
		extractors: extractors,
		registry:   registry,
		log:        log,
	}
}

// Name returns the source name.
func (p *Pipeline) Name() string { return p.source.Name }

// Execute runs every step in order. The first failing step aborts the
// pipeline; results recorded so far stay readable.
func (p *Pipeline) Execute(ctx context.Context) error {
	start := time.Now()
	for i, step := range p.source.Pipeline {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := p.executeStep(ctx, i, step)
		if err != nil {
			metrics.RecordPipeline("error", time.Since(start))
			return fmt.Errorf("source %q step %d (%s): %w", p.source.Name, i, step.Kind, err)
		}
		p.results = append(p.results, v)
		p.log.WithField("source", p.source.Name).
			WithField("step", i).
			WithField("kind", string(step.Kind)).
			Debug("step executed")
	}
	metrics.RecordPipeline("ok", time.Since(start))
	return nil
}

func (p *Pipeline) executeStep(ctx context.Context, i int, step Step) (Value, error) {
	switch step.Kind {
	case StepExtract:
		return p.extract(ctx, step)
	case StepTraverse:
		return p.traverse(step, i)
	case StepGetIndex:
		return p.getIndex(step, i)
	case StepMath:
		return p.math(step, i)
	case StepQuerySQL:
		return p.querySQL(ctx, step, i)
	default:
		if step.Kind.IsCustom() {
			return p.custom(ctx, step, i)
		}
		return nil, apperrors.StepNotFound("step %q not found", string(step.Kind))
	}
}

func (p *Pipeline) extract(ctx context.Context, step Step) (Value, error) {
	family := step.Method
	if dot := strings.IndexByte(family, '.'); dot >= 0 {
		family = family[:dot]
	}
	ex, ok := p.extractors[family]
	if !ok {
		return nil, apperrors.MethodNotFound("handler for extract step method %q not found", step.Method)
	}
	return ex.Extract(ctx, step)
}

func (p *Pipeline) custom(ctx context.Context, step Step, i int) (Value, error) {
	cs, ok := p.registry.Lookup(string(step.Kind))
	if !ok {
		return nil, apperrors.StepNotFound("custom step %q is not registered", string(step.Kind))
	}
	return cs.Execute(ctx, step, i, p)
}

// ValueAt returns the result of step i. Reading before step 0 or past the
// last executed step fails with NoInputValue.
func (p *Pipeline) ValueAt(i int) (Value, error) {
	if i < 0 {
		return nil, apperrors.NoInputValue("Step with index %d has no input value.", i)
	}
	if i >= len(p.results) {
		return nil, apperrors.NoInputValue("Step with index %d has not been executed.", i)
	}
	return p.results[i], nil
}

// Results returns a copy of the step results recorded so far.
func (p *Pipeline) Results() []Value {
	return append([]Value(nil), p.results...)
}

// Last returns the final step's value.
func (p *Pipeline) Last() (Value, error) {
	return p.ValueAt(len(p.results) - 1)
}
