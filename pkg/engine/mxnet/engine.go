// Package mxnet wraps a tensor-engine backend in the MXNet binding surface:
// an Engine that enumerates the native operators once, Operator descriptors
// that invoke them imperatively, and NDManager/NDArray for array lifetimes.
package mxnet

import (
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/gomx/gomx/pkg/engine"
)

// Engine owns a backend and the operators enumerated from it. Descriptors are
// read once at construction and never refreshed: the native operator set is
// fixed for the life of the engine.
type Engine struct {
	backend   engine.Backend
	operators map[string]*Operator
}

// New enumerates the backend's operators and returns an Engine over them.
func New(backend engine.Backend) (*Engine, error) {
	descriptors, err := backend.ListOperators()
	if err != nil {
		return nil, fmt.Errorf("listing operators: %w", err)
	}

	operators := make(map[string]*Operator, len(descriptors))
	for _, d := range descriptors {
		operators[d.Name] = &Operator{
			backend:   backend,
			handle:    d.Handle,
			name:      d.Name,
			arguments: d.Arguments,
		}
	}
	klog.V(2).Infof("enumerated %d operators", len(operators))

	return &Engine{
		backend:   backend,
		operators: operators,
	}, nil
}

// Operator looks up an operator by name.
func (e *Engine) Operator(name string) (*Operator, bool) {
	op, ok := e.operators[name]
	return op, ok
}

// OperatorNames returns the names of all operators, sorted.
func (e *Engine) OperatorNames() []string {
	names := make([]string, 0, len(e.operators))
	for name := range e.operators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewManager returns a manager over the engine's backend, creating arrays on
// dev by default.
func (e *Engine) NewManager(dev engine.Device) *NDManager {
	return NewManager(e.backend, dev)
}

// Close shuts down the backend. Arrays still held by managers become invalid.
func (e *Engine) Close() error {
	return e.backend.Close()
}
