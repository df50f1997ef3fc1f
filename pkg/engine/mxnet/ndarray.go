package mxnet

import (
	"fmt"

	"github.com/gomx/gomx/pkg/engine"
)

// NDArray is a managed reference to an engine-resident array. The native
// memory belongs to the engine; the manager the NDArray is attached to is
// responsible for eventually releasing the handle.
type NDArray struct {
	manager *NDManager
	handle  engine.ArrayHandle

	// device is resolved from the backend on first use and cached; arrays
	// never migrate devices in place.
	device    engine.Device
	hasDevice bool
}

// Handle returns the raw native handle.
func (a *NDArray) Handle() engine.ArrayHandle {
	return a.handle
}

// Device returns the device the array lives on.
func (a *NDArray) Device() engine.Device {
	if !a.hasDevice {
		dev, err := a.manager.backend.Context(a.handle)
		if err != nil {
			// An array whose context cannot be read is already unusable;
			// report CPU rather than fail an accessor.
			return engine.CPUDevice()
		}
		a.device = dev
		a.hasDevice = true
	}
	return a.device
}

// Shape returns the array's dimensions.
func (a *NDArray) Shape() ([]int, error) {
	return a.manager.backend.Shape(a.handle)
}

// Values copies the array's data to the host.
func (a *NDArray) Values() ([]float32, error) {
	return a.manager.backend.Values(a.handle)
}

// SetValues copies values into the array's native memory.
func (a *NDArray) SetValues(values []float32) error {
	return a.manager.backend.SetValues(a.handle, values)
}

// Close detaches the array from its manager and frees the native memory.
// Closing an already-detached array is an error.
func (a *NDArray) Close() error {
	if !a.manager.detach(a.handle) {
		return fmt.Errorf("array %#x is not attached to its manager", uintptr(a.handle))
	}
	if err := a.manager.backend.FreeArray(a.handle); err != nil {
		return fmt.Errorf("freeing array %#x: %w", uintptr(a.handle), err)
	}
	return nil
}
