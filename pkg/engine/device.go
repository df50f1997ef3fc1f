package engine

import "fmt"

// DeviceType identifies a class of compute device, using MXNet's numeric
// codes.
type DeviceType int

const (
	CPU       DeviceType = 1
	GPU       DeviceType = 2
	CPUPinned DeviceType = 3
)

func (t DeviceType) String() string {
	switch t {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	case CPUPinned:
		return "cpu_pinned"
	default:
		return fmt.Sprintf("device(%d)", int(t))
	}
}

// Device identifies a compute unit: a device type plus an ordinal within that
// type. The zero value is not a valid device; use CPUDevice or GPUDevice.
type Device struct {
	Type DeviceType
	ID   int
}

func CPUDevice() Device {
	return Device{Type: CPU, ID: 0}
}

func GPUDevice(id int) Device {
	return Device{Type: GPU, ID: id}
}

func (d Device) String() string {
	return fmt.Sprintf("%s(%d)", d.Type, d.ID)
}

func (d Device) Equal(other Device) bool {
	return d.Type == other.Type && d.ID == other.ID
}
