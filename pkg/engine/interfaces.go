package engine

import (
	"io"
)

// OpHandle is an opaque reference to a native operator (an "atomic symbol
// creator" in MXNet terms). It is owned by the native engine and stays valid
// for the engine's lifetime; this package never allocates or frees one.
type OpHandle uintptr

// ArrayHandle is an opaque reference to an engine-resident NDArray. Handles
// produced by the engine are released through Backend.FreeArray, normally by
// the manager that owns the wrapping NDArray.
type ArrayHandle uintptr

// OperatorDescriptor describes one native operator: its handle, its name and
// the declared (argument name, argument type) pairs in declaration order.
// Descriptors are built once, when the backend enumerates its operators, and
// are never mutated afterwards.
type OperatorDescriptor struct {
	Handle    OpHandle
	Name      string
	Arguments *PairList
}

// Backend is the call boundary to a tensor engine. Two implementations exist:
// capi (cgo against libmxnet) and fallback (pure Go, for tests and for
// machines without the native library).
//
// Backends report failures through their own error values; callers propagate
// them unchanged.
type Backend interface {
	io.Closer

	// ListOperators enumerates every operator the engine provides.
	ListOperators() ([]OperatorDescriptor, error)

	// ImperativeInvoke executes op immediately. If outputs is nil the engine
	// allocates the result arrays and returns their handles. If outputs is
	// non-nil the engine overwrites those arrays in place and returns the
	// same handles back. params carries the non-array operator arguments as
	// string key/value pairs, passed through uninterpreted.
	ImperativeInvoke(op OpHandle, inputs []ArrayHandle, outputs []ArrayHandle, params *PairList) ([]ArrayHandle, error)

	// CreateArray allocates an uninitialized float32 array on dev.
	CreateArray(shape []int, dev Device) (ArrayHandle, error)

	// SetValues copies values into the array. len(values) must match the
	// array's element count.
	SetValues(h ArrayHandle, values []float32) error

	// Values copies the array's data out.
	Values(h ArrayHandle) ([]float32, error)

	// Shape returns the array's dimensions.
	Shape(h ArrayHandle) ([]int, error)

	// Context returns the device the array lives on.
	Context(h ArrayHandle) (Device, error)

	// FreeArray releases the array. The handle must not be used afterwards.
	FreeArray(h ArrayHandle) error
}
