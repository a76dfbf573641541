package forecast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StepOperator advances a packed state by a fixed time increment. Implementations
// must not retain or modify the input tensors.
type StepOperator interface {
	Apply(ctx context.Context, in Tensors) (Tensors, error)
}

// OperatorFunc adapts a function to StepOperator.
type OperatorFunc func(ctx context.Context, in Tensors) (Tensors, error)

func (f OperatorFunc) Apply(ctx context.Context, in Tensors) (Tensors, error) { return f(ctx, in) }

// Descriptor is a registry entry: an operator with its declared increment and
// tensor contracts.
type Descriptor struct {
	Name     string
	Step     time.Duration
	Input    Contract
	Output   Contract
	Operator StepOperator `json:"-"`
}

// Registry catalogs the available step operators, one per distinct increment.
type Registry struct {
	mu     sync.RWMutex
	byStep map[time.Duration]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byStep: make(map[time.Duration]Descriptor)}
}

// Register adds an operator. Empty contracts default to the codec's contract.
func (r *Registry) Register(d Descriptor, codec *Codec) error {
	if d.Operator == nil {
		return fmt.Errorf("operator %q: nil implementation", d.Name)
	}
	if d.Step <= 0 {
		return fmt.Errorf("operator %q: step must be positive, got %s", d.Name, d.Step)
	}
	if d.Name == "" {
		d.Name = fmt.Sprintf("step_%s", d.Step)
	}
	if codec != nil {
		if d.Input.Surface == nil && d.Input.Upper == nil {
			d.Input = codec.Contract()
		}
		if d.Output.Surface == nil && d.Output.Upper == nil {
			d.Output = codec.Contract()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byStep[d.Step]; ok {
		return fmt.Errorf("operator %q: increment %s already served by %q", d.Name, d.Step, existing.Name)
	}
	if len(r.byStep) >= MaxIncrements {
		return fmt.Errorf("operator %q: registry already serves %d increments", d.Name, MaxIncrements)
	}
	r.byStep[d.Step] = d
	return nil
}

// Lookup returns the operator registered for an increment.
func (r *Registry) Lookup(step time.Duration) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byStep[step]
	return d, ok
}

// Increments returns the distinct registered increments, largest first.
func (r *Registry) Increments() []time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]time.Duration, 0, len(r.byStep))
	for step := range r.byStep {
		out = append(out, step)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// Descriptors returns all entries, largest increment first.
func (r *Registry) Descriptors() []Descriptor {
	steps := r.Increments()
	out := make([]Descriptor, 0, len(steps))
	for _, s := range steps {
		d, _ := r.Lookup(s)
		out = append(out, d)
	}
	return out
}
