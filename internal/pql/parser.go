package pql

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/metrics"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Parser validates PQL documents, runs their sources concurrently and
// aggregates the results.
type Parser struct {
	schema     *Schema
	registry   *Registry
	extractors Extractors
	log        *logger.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithExtractor installs the handler for an extract method family.
func WithExtractor(family string, ex Extractor) Option {
	return func(p *Parser) { p.extractors[family] = ex }
}

// WithRegistry installs the custom step registry.
func WithRegistry(r *Registry) Option {
	return func(p *Parser) { p.registry = r }
}

// WithLogger sets the parser logger.
func WithLogger(log *logger.Logger) Option {
	return func(p *Parser) { p.log = log }
}

// NewParser builds a Parser. The schema is compiled once, including the
// schemas of every registered custom step.
func NewParser(opts ...Option) (*Parser, error) {
	p := &Parser{extractors: Extractors{}}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.NewDefault("pql-parser")
	}
	if p.registry == nil {
		p.registry, _ = NewRegistry()
	}
	schema, err := NewSchema(p.registry)
	if err != nil {
		return nil, err
	}
	p.schema = schema
	return p, nil
}

// Execute validates raw, runs it and returns the final value.
func (p *Parser) Execute(ctx context.Context, raw []byte) (Value, error) {
	if err := p.schema.Validate(raw); err != nil {
		return nil, err
	}
	def, err := DecodeDefinition(raw)
	if err != nil {
		return nil, apperrors.PqlDecoding("decode pql document: %v", err)
	}
	return p.Run(ctx, def)
}

// Run executes an already validated definition. Every source runs in its
// own goroutine; all of them are awaited before aggregation and the first
// error (in completion order) is returned.
func (p *Parser) Run(ctx context.Context, def *Definition) (Value, error) {
	if len(def.Sources) == 0 {
		return nil, apperrors.PqlValidation("document has no sources")
	}
	start := time.Now()
	log := p.log.WithField("pql", def.Name)

	pipelines := make([]*Pipeline, len(def.Sources))
	for i, src := range def.Sources {
		pipelines[i] = NewPipeline(src, p.extractors, p.registry, p.log)
	}

	// No derived context: a failing source must not cancel its siblings.
	var g errgroup.Group
	for _, pl := range pipelines {
		pl := pl
		g.Go(func() error { return pl.Execute(ctx) })
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("pql execution failed")
		metrics.RecordExecution("error", time.Since(start))
		return nil, err
	}

	finals := make([]Value, len(pipelines))
	for i, pl := range pipelines {
		v, err := pl.Last()
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", pl.Name(), err)
		}
		finals[i] = v
	}

	var (
		result Value
		err    error
	)
	if def.Aggregate == nil {
		result = finals[len(finals)-1]
	} else {
		result, err = aggregate(ctx, def.Aggregate, finals)
	}
	if err != nil {
		log.WithError(err).Warn("pql aggregation failed")
		metrics.RecordExecution("error", time.Since(start))
		return nil, err
	}

	metrics.RecordExecution("ok", time.Since(start))
	log.WithField("sources", len(pipelines)).Debug("pql executed")
	return result, nil
}
