//go:build mxnet

// Package capi implements engine.Backend against libmxnet's C API. It needs
// the native library and headers, so it is built only with the mxnet tag.
package capi

// #cgo CFLAGS: -O2
// #cgo LDFLAGS: -lmxnet
// #include <stdlib.h>
// #include <mxnet/c_api.h>
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gomx/gomx/pkg/engine"
)

// kFloat32 in mshadow's dtype enum.
const dtypeFloat32 = 0

// Backend binds the process-wide MXNet engine. Handles returned by MXNet are
// passed through as-is; MXNet owns all native memory.
type Backend struct{}

var _ engine.Backend = (*Backend)(nil)

// New returns a backend over the already-loaded libmxnet.
func New() *Backend {
	return &Backend{}
}

// lastError converts MXNet's thread-local error string into a Go error.
func lastError() error {
	msg := C.GoString(C.MXGetLastError())
	if msg == "" {
		return errors.New("unknown MXNet error")
	}
	return errors.New(msg)
}

func (b *Backend) ListOperators() ([]engine.OperatorDescriptor, error) {
	var size C.mx_uint
	var creators *C.AtomicSymbolCreator
	if C.MXSymbolListAtomicSymbolCreators(&size, &creators) != 0 {
		return nil, fmt.Errorf("listing operators: %w", lastError())
	}

	creatorSlice := unsafe.Slice(creators, int(size))
	descriptors := make([]engine.OperatorDescriptor, 0, int(size))
	for _, creator := range creatorSlice {
		descriptor, err := describeOperator(creator)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

func describeOperator(creator C.AtomicSymbolCreator) (engine.OperatorDescriptor, error) {
	var name *C.char
	var description *C.char
	var numArgs C.mx_uint
	var argNames **C.char
	var argTypes **C.char
	var argDescriptions **C.char
	var keyVarNumArgs *C.char
	var returnType *C.char

	if C.MXSymbolGetAtomicSymbolInfo(creator,
		&name, &description,
		&numArgs, &argNames, &argTypes, &argDescriptions,
		&keyVarNumArgs, &returnType) != 0 {
		return engine.OperatorDescriptor{}, fmt.Errorf("reading operator info: %w", lastError())
	}

	// All strings returned here point into MXNet-owned memory.
	arguments := engine.NewPairList()
	names := unsafe.Slice(argNames, int(numArgs))
	types := unsafe.Slice(argTypes, int(numArgs))
	for i := 0; i < int(numArgs); i++ {
		arguments.Add(C.GoString(names[i]), C.GoString(types[i]))
	}

	return engine.OperatorDescriptor{
		Handle:    engine.OpHandle(uintptr(creator)),
		Name:      C.GoString(name),
		Arguments: arguments,
	}, nil
}

func (b *Backend) ImperativeInvoke(op engine.OpHandle, inputs []engine.ArrayHandle, outputs []engine.ArrayHandle, params *engine.PairList) ([]engine.ArrayHandle, error) {
	creator := C.AtomicSymbolCreator(unsafe.Pointer(uintptr(op)))

	var inputPtr *C.NDArrayHandle
	cInputs := make([]C.NDArrayHandle, len(inputs))
	for i, h := range inputs {
		cInputs[i] = C.NDArrayHandle(unsafe.Pointer(uintptr(h)))
	}
	if len(cInputs) > 0 {
		inputPtr = &cInputs[0]
	}

	numOutputs := C.int(len(outputs))
	var outputPtr *C.NDArrayHandle
	var cOutputs []C.NDArrayHandle
	if outputs != nil {
		cOutputs = make([]C.NDArrayHandle, len(outputs))
		for i, h := range outputs {
			cOutputs[i] = C.NDArrayHandle(unsafe.Pointer(uintptr(h)))
		}
		if len(cOutputs) > 0 {
			outputPtr = &cOutputs[0]
		}
	}

	keys, values, free := cStringArrays(params)
	defer free()

	if C.MXImperativeInvoke(creator,
		C.int(len(inputs)), inputPtr,
		&numOutputs, &outputPtr,
		C.int(params.Len()), keys, values) != 0 {
		return nil, lastError()
	}

	if outputs != nil {
		return outputs, nil
	}

	results := make([]engine.ArrayHandle, int(numOutputs))
	resultSlice := unsafe.Slice(outputPtr, int(numOutputs))
	for i, h := range resultSlice {
		results[i] = engine.ArrayHandle(uintptr(unsafe.Pointer(h)))
	}
	return results, nil
}

// cStringArrays converts a PairList into parallel C string arrays plus a
// release function.
func cStringArrays(params *engine.PairList) (**C.char, **C.char, func()) {
	n := params.Len()
	if n == 0 {
		return nil, nil, func() {}
	}

	keys := make([]*C.char, n)
	values := make([]*C.char, n)
	for i, key := range params.Keys() {
		keys[i] = C.CString(key)
	}
	for i, value := range params.Values() {
		values[i] = C.CString(value)
	}

	free := func() {
		for i := 0; i < n; i++ {
			C.free(unsafe.Pointer(keys[i]))
			C.free(unsafe.Pointer(values[i]))
		}
	}
	return &keys[0], &values[0], free
}

func (b *Backend) CreateArray(shape []int, dev engine.Device) (engine.ArrayHandle, error) {
	cShape := make([]C.mx_uint, len(shape))
	for i, dim := range shape {
		cShape[i] = C.mx_uint(dim)
	}
	var shapePtr *C.mx_uint
	if len(cShape) > 0 {
		shapePtr = &cShape[0]
	}

	var out C.NDArrayHandle
	if C.MXNDArrayCreateEx(shapePtr, C.mx_uint(len(shape)),
		C.int(dev.Type), C.int(dev.ID),
		0 /* delay_alloc */, dtypeFloat32, &out) != 0 {
		return 0, lastError()
	}
	return engine.ArrayHandle(uintptr(unsafe.Pointer(out))), nil
}

func (b *Backend) SetValues(h engine.ArrayHandle, values []float32) error {
	var data unsafe.Pointer
	if len(values) > 0 {
		data = unsafe.Pointer(&values[0])
	}
	if C.MXNDArraySyncCopyFromCPU(C.NDArrayHandle(unsafe.Pointer(uintptr(h))),
		data, C.size_t(len(values))) != 0 {
		return lastError()
	}
	return nil
}

func (b *Backend) Values(h engine.ArrayHandle) ([]float32, error) {
	shape, err := b.Shape(h)
	if err != nil {
		return nil, err
	}
	n := 1
	for _, dim := range shape {
		n *= dim
	}

	values := make([]float32, n)
	var data unsafe.Pointer
	if n > 0 {
		data = unsafe.Pointer(&values[0])
	}
	if C.MXNDArraySyncCopyToCPU(C.NDArrayHandle(unsafe.Pointer(uintptr(h))),
		data, C.size_t(n)) != 0 {
		return nil, lastError()
	}
	return values, nil
}

func (b *Backend) Shape(h engine.ArrayHandle) ([]int, error) {
	var dim C.int
	var data *C.int
	if C.MXNDArrayGetShapeEx(C.NDArrayHandle(unsafe.Pointer(uintptr(h))), &dim, &data) != 0 {
		return nil, lastError()
	}

	shape := make([]int, int(dim))
	dims := unsafe.Slice(data, int(dim))
	for i := range shape {
		shape[i] = int(dims[i])
	}
	return shape, nil
}

func (b *Backend) Context(h engine.ArrayHandle) (engine.Device, error) {
	var devType, devID C.int
	if C.MXNDArrayGetContext(C.NDArrayHandle(unsafe.Pointer(uintptr(h))), &devType, &devID) != 0 {
		return engine.Device{}, lastError()
	}
	return engine.Device{Type: engine.DeviceType(devType), ID: int(devID)}, nil
}

func (b *Backend) FreeArray(h engine.ArrayHandle) error {
	if C.MXNDArrayFree(C.NDArrayHandle(unsafe.Pointer(uintptr(h)))) != 0 {
		return lastError()
	}
	return nil
}

// Close notifies the engine that the process is shutting down.
func (b *Backend) Close() error {
	if C.MXNotifyShutdown() != 0 {
		return lastError()
	}
	return nil
}
