package pql

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
)

// CustomStep is a pluggable custom.* step.
type CustomStep interface {
	// Identifier is the step discriminator, e.g. "custom.my_add".
	Identifier() string
	// Schema is the JSON schema a step object must satisfy.
	Schema() map[string]interface{}
	// Execute computes the step's value. It may read any earlier step
	// through p.ValueAt.
	Execute(ctx context.Context, step Step, index int, p *Pipeline) (Value, error)
}

// Registry holds the custom steps available to a Parser. It is built once at
// startup and shared read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]CustomStep
}

// NewRegistry returns a registry holding steps.
func NewRegistry(steps ...CustomStep) (*Registry, error) {
	r := &Registry{steps: make(map[string]CustomStep)}
	for _, s := range steps {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a custom step.
func (r *Registry) Register(s CustomStep) error {
	if s == nil {
		return fmt.Errorf("nil custom step")
	}
	id := s.Identifier()
	if !StepKind(id).IsCustom() {
		return fmt.Errorf("custom step identifier %q must start with %q", id, customPrefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[id]; exists {
		return fmt.Errorf("custom step %q already registered", id)
	}
	r.steps[id] = s
	return nil
}

// Lookup returns the step registered under id.
func (r *Registry) Lookup(id string) (CustomStep, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[id]
	return s, ok
}

// Identifiers lists registered ids in sorted order.
func (r *Registry) Identifiers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.steps))
	for id := range r.steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Schemas returns every step's schema in identifier order.
func (r *Registry) Schemas() []map[string]interface{} {
	var out []map[string]interface{}
	for _, id := range r.Identifiers() {
		s, _ := r.Lookup(id)
		if schema := s.Schema(); schema != nil {
			out = append(out, schema)
		}
	}
	return out
}

// NotImplemented is a placeholder step that declares a schema but fails at
// execution.
type NotImplemented struct {
	ID         string
	StepSchema map[string]interface{}
}

func (n NotImplemented) Identifier() string             { return n.ID }
func (n NotImplemented) Schema() map[string]interface{} { return n.StepSchema }

func (n NotImplemented) Execute(context.Context, Step, int, *Pipeline) (Value, error) {
	return nil, apperrors.CustomNotImplemented("execute method is not implemented for %s", n.ID)
}
