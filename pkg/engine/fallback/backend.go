// Package fallback is a pure-Go engine.Backend for machines without
// libmxnet. It implements a small table of operators under their MXNet names,
// enough to exercise the binding surface and to run tests; it is not a math
// library.
package fallback

import (
	"fmt"
	"strconv"

	"github.com/gomx/gomx/pkg/engine"
)

type array struct {
	shape  []int
	values []float32
	device engine.Device
}

func (a *array) elements() int {
	n := 1
	for _, dim := range a.shape {
		n *= dim
	}
	return n
}

type operator struct {
	name string
	args *engine.PairList

	// apply computes the operator's results as fresh arrays; the in-place
	// path copies them into the caller's destinations afterwards.
	apply func(inputs []*array, params *engine.PairList) ([]*array, error)
}

// Backend is an in-memory engine. Handles index a map of float32 arrays;
// operator handles index the operator table. Not safe for concurrent use.
type Backend struct {
	arrays map[engine.ArrayHandle]*array
	next   engine.ArrayHandle

	operators []*operator
	closed    bool
}

var _ engine.Backend = (*Backend)(nil)

// New returns an empty backend with the standard operator table.
func New() *Backend {
	return &Backend{
		arrays:    make(map[engine.ArrayHandle]*array),
		next:      1,
		operators: operatorTable(),
	}
}

func operatorTable() []*operator {
	ndarrayArgs := engine.PairListOf(
		"lhs", "NDArray-or-Symbol",
		"rhs", "NDArray-or-Symbol",
	)

	return []*operator{
		{
			name:  "elemwise_add",
			args:  ndarrayArgs,
			apply: elementwise(func(x, y float32) float32 { return x + y }),
		},
		{
			name:  "elemwise_sub",
			args:  ndarrayArgs,
			apply: elementwise(func(x, y float32) float32 { return x - y }),
		},
		{
			name:  "elemwise_mul",
			args:  ndarrayArgs,
			apply: elementwise(func(x, y float32) float32 { return x * y }),
		},
		{
			name:  "dot",
			args:  ndarrayArgs,
			apply: dot,
		},
		{
			name:  "_copyto",
			args:  engine.PairListOf("data", "NDArray"),
			apply: copyTo,
		},
		{
			name: "_mul_scalar",
			args: engine.PairListOf(
				"data", "NDArray-or-Symbol",
				"scalar", "float",
			),
			apply: mulScalar,
		},
	}
}

// ListOperators returns a descriptor per table entry. Operator handles are
// 1-based table indexes.
func (b *Backend) ListOperators() ([]engine.OperatorDescriptor, error) {
	descriptors := make([]engine.OperatorDescriptor, len(b.operators))
	for i, op := range b.operators {
		descriptors[i] = engine.OperatorDescriptor{
			Handle:    engine.OpHandle(i + 1),
			Name:      op.name,
			Arguments: op.args,
		}
	}
	return descriptors, nil
}

func (b *Backend) ImperativeInvoke(op engine.OpHandle, inputs []engine.ArrayHandle, outputs []engine.ArrayHandle, params *engine.PairList) ([]engine.ArrayHandle, error) {
	idx := int(op) - 1
	if idx < 0 || idx >= len(b.operators) {
		return nil, fmt.Errorf("unknown operator handle %d", op)
	}
	operator := b.operators[idx]

	srcArrays := make([]*array, len(inputs))
	for i, h := range inputs {
		a, err := b.lookup(h)
		if err != nil {
			return nil, fmt.Errorf("operator %q input %d: %w", operator.name, i, err)
		}
		srcArrays[i] = a
	}

	results, err := operator.apply(srcArrays, params)
	if err != nil {
		return nil, fmt.Errorf("operator %q: %w", operator.name, err)
	}

	if outputs == nil {
		handles := make([]engine.ArrayHandle, len(results))
		for i, result := range results {
			handles[i] = b.register(result)
		}
		return handles, nil
	}

	// In-place: overwrite the caller's destination arrays, keeping their
	// devices.
	if len(outputs) != len(results) {
		return nil, fmt.Errorf("operator %q produced %d outputs, %d destinations given", operator.name, len(results), len(outputs))
	}
	for i, h := range outputs {
		dest, err := b.lookup(h)
		if err != nil {
			return nil, fmt.Errorf("operator %q destination %d: %w", operator.name, i, err)
		}
		dest.shape = results[i].shape
		dest.values = results[i].values
	}
	return outputs, nil
}

func (b *Backend) CreateArray(shape []int, dev engine.Device) (engine.ArrayHandle, error) {
	a := &array{
		shape:  append([]int(nil), shape...),
		device: dev,
	}
	a.values = make([]float32, a.elements())
	return b.register(a), nil
}

func (b *Backend) SetValues(h engine.ArrayHandle, values []float32) error {
	a, err := b.lookup(h)
	if err != nil {
		return err
	}
	if len(values) != a.elements() {
		return fmt.Errorf("array has %d elements, %d values given", a.elements(), len(values))
	}
	copy(a.values, values)
	return nil
}

func (b *Backend) Values(h engine.ArrayHandle) ([]float32, error) {
	a, err := b.lookup(h)
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), a.values...), nil
}

func (b *Backend) Shape(h engine.ArrayHandle) ([]int, error) {
	a, err := b.lookup(h)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), a.shape...), nil
}

func (b *Backend) Context(h engine.ArrayHandle) (engine.Device, error) {
	a, err := b.lookup(h)
	if err != nil {
		return engine.Device{}, err
	}
	return a.device, nil
}

func (b *Backend) FreeArray(h engine.ArrayHandle) error {
	if _, err := b.lookup(h); err != nil {
		return err
	}
	delete(b.arrays, h)
	return nil
}

func (b *Backend) Close() error {
	b.arrays = nil
	b.closed = true
	return nil
}

func (b *Backend) lookup(h engine.ArrayHandle) (*array, error) {
	a, ok := b.arrays[h]
	if !ok {
		return nil, fmt.Errorf("array handle %#x not found", uintptr(h))
	}
	return a, nil
}

func (b *Backend) register(a *array) engine.ArrayHandle {
	h := b.next
	b.next++
	b.arrays[h] = a
	return h
}

func elementwise(op func(x, y float32) float32) func([]*array, *engine.PairList) ([]*array, error) {
	return func(inputs []*array, params *engine.PairList) ([]*array, error) {
		if len(inputs) != 2 {
			return nil, fmt.Errorf("expected 2 inputs, got %d", len(inputs))
		}
		lhs, rhs := inputs[0], inputs[1]
		if lhs.elements() != rhs.elements() {
			return nil, fmt.Errorf("shape mismatch: %v vs %v", lhs.shape, rhs.shape)
		}
		result := &array{
			shape:  append([]int(nil), lhs.shape...),
			values: make([]float32, lhs.elements()),
			device: lhs.device,
		}
		for i := range result.values {
			result.values[i] = op(lhs.values[i], rhs.values[i])
		}
		return []*array{result}, nil
	}
}

func dot(inputs []*array, params *engine.PairList) ([]*array, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("expected 2 inputs, got %d", len(inputs))
	}
	lhs, rhs := inputs[0], inputs[1]

	switch {
	case len(lhs.shape) == 1 && len(rhs.shape) == 1:
		if lhs.shape[0] != rhs.shape[0] {
			return nil, fmt.Errorf("shape mismatch: %v vs %v", lhs.shape, rhs.shape)
		}
		var sum float32
		for i := range lhs.values {
			sum += lhs.values[i] * rhs.values[i]
		}
		return []*array{{shape: []int{1}, values: []float32{sum}, device: lhs.device}}, nil

	case len(lhs.shape) == 2 && len(rhs.shape) == 2:
		m, k, n := lhs.shape[0], lhs.shape[1], rhs.shape[1]
		if rhs.shape[0] != k {
			return nil, fmt.Errorf("shape mismatch: %v vs %v", lhs.shape, rhs.shape)
		}
		result := &array{
			shape:  []int{m, n},
			values: make([]float32, m*n),
			device: lhs.device,
		}
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var sum float32
				for l := 0; l < k; l++ {
					sum += lhs.values[i*k+l] * rhs.values[l*n+j]
				}
				result.values[i*n+j] = sum
			}
		}
		return []*array{result}, nil

	default:
		return nil, fmt.Errorf("unsupported ranks: %v vs %v", lhs.shape, rhs.shape)
	}
}

func copyTo(inputs []*array, params *engine.PairList) ([]*array, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	src := inputs[0]
	return []*array{{
		shape:  append([]int(nil), src.shape...),
		values: append([]float32(nil), src.values...),
		device: src.device,
	}}, nil
}

func mulScalar(inputs []*array, params *engine.PairList) ([]*array, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	raw, ok := params.Get("scalar")
	if !ok {
		return nil, fmt.Errorf("missing required parameter %q", "scalar")
	}
	scalar, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing scalar %q: %w", raw, err)
	}

	src := inputs[0]
	result := &array{
		shape:  append([]int(nil), src.shape...),
		values: make([]float32, len(src.values)),
		device: src.device,
	}
	for i, v := range src.values {
		result.values[i] = v * float32(scalar)
	}
	return []*array{result}, nil
}
