package operator

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnknownOperator is returned when a requested operator name was never
// registered.
var ErrUnknownOperator = errors.New("unknown operator")

// Registry holds named operators. Operators are registered explicitly at
// startup; registering a name twice replaces the earlier operator.
type Registry struct {
	byName map[string]Operator
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Operator)}
}

// Builtin returns a registry with the built-in operator families
// registered.
func Builtin() *Registry {
	r := NewRegistry()
	for _, op := range Builtins() {
		r.Register(op)
	}
	return r
}

func (r *Registry) Register(op Operator) {
	name := op.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = op
}

// Get resolves a single operator name.
func (r *Registry) Get(name string) (Operator, error) {
	op, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, name)
	}
	return op, nil
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Enabled resolves a requested operator set. An empty request means every
// registered operator. Unknown names are skipped with a warning; the
// result preserves registration order and an empty resolution is an error.
func (r *Registry) Enabled(names ...string) ([]Operator, error) {
	if len(names) == 0 {
		names = r.order
	}

	requested := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := r.byName[name]; !ok {
			slog.Warn("Skipping unknown operator", "operator", name)
			continue
		}
		requested[name] = true
	}

	var ops []Operator
	for _, name := range r.order {
		if requested[name] {
			ops = append(ops, r.byName[name])
		}
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: no usable operator in %v", ErrUnknownOperator, names)
	}
	return ops, nil
}
