package mxnet

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/gomx/gomx/pkg/engine"
)

// NDManager tracks the arrays attributed to it and releases them when it is
// closed. Managers are cheap; typical use is one per unit of work so that a
// single Close reclaims everything the work produced.
//
// NDManager is not safe for concurrent use; callers serialize access
// themselves.
type NDManager struct {
	backend engine.Backend
	device  engine.Device

	arrays map[engine.ArrayHandle]*NDArray
	closed bool
}

// NewManager returns a manager that creates arrays on dev by default.
func NewManager(backend engine.Backend, dev engine.Device) *NDManager {
	return &NDManager{
		backend: backend,
		device:  dev,
		arrays:  make(map[engine.ArrayHandle]*NDArray),
	}
}

// Device returns the manager's default device.
func (m *NDManager) Device() engine.Device {
	return m.device
}

// Create wraps a raw native handle into an NDArray attributed to this
// manager. The manager takes over release responsibility; this is how arrays
// allocated by the engine during an invoke become managed.
func (m *NDManager) Create(h engine.ArrayHandle) *NDArray {
	a := &NDArray{manager: m, handle: h}
	m.arrays[h] = a
	return a
}

// NewArray allocates an array with the given shape on the manager's device
// and fills it with values.
func (m *NDManager) NewArray(values []float32, shape []int) (*NDArray, error) {
	h, err := m.backend.CreateArray(shape, m.device)
	if err != nil {
		return nil, fmt.Errorf("creating array with shape %v: %w", shape, err)
	}
	a := m.Create(h)
	if err := a.SetValues(values); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("setting array values: %w", err)
	}
	return a, nil
}

// detach removes the handle from the manager's tracking. Reports whether the
// handle was attached.
func (m *NDManager) detach(h engine.ArrayHandle) bool {
	if _, ok := m.arrays[h]; !ok {
		return false
	}
	delete(m.arrays, h)
	return true
}

// Close frees every array still attributed to the manager. Safe to call more
// than once.
func (m *NDManager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for h := range m.arrays {
		if err := m.backend.FreeArray(h); err != nil {
			klog.Errorf("freeing array %#x: %v", uintptr(h), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.arrays = nil
	return firstErr
}
