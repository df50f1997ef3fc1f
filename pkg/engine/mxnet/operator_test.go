package mxnet

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"strings"
	"testing"

	"k8s.io/klog/v2"

	"github.com/gomx/gomx/pkg/engine"
)

// fakeBackend scripts the native boundary so invoke semantics can be checked
// without a native engine.
type fakeBackend struct {
	descriptors []engine.OperatorDescriptor

	// invokeResults are the handles the next allocating invoke returns.
	invokeResults []engine.ArrayHandle
	invokeErr     error

	devices map[engine.ArrayHandle]engine.Device
	freed   []engine.ArrayHandle

	lastInputs  []engine.ArrayHandle
	lastOutputs []engine.ArrayHandle
	lastParams  *engine.PairList
}

var _ engine.Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		descriptors: []engine.OperatorDescriptor{
			{
				Handle: 1,
				Name:   "elemwise_add",
				Arguments: engine.PairListOf(
					"lhs", "NDArray-or-Symbol",
					"rhs", "NDArray-or-Symbol",
				),
			},
		},
		devices: make(map[engine.ArrayHandle]engine.Device),
	}
}

func (f *fakeBackend) ListOperators() ([]engine.OperatorDescriptor, error) {
	return f.descriptors, nil
}

func (f *fakeBackend) ImperativeInvoke(op engine.OpHandle, inputs []engine.ArrayHandle, outputs []engine.ArrayHandle, params *engine.PairList) ([]engine.ArrayHandle, error) {
	f.lastInputs = inputs
	f.lastOutputs = outputs
	f.lastParams = params
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	if outputs != nil {
		return outputs, nil
	}
	return f.invokeResults, nil
}

func (f *fakeBackend) CreateArray(shape []int, dev engine.Device) (engine.ArrayHandle, error) {
	h := engine.ArrayHandle(len(f.devices) + 100)
	f.devices[h] = dev
	return h, nil
}

func (f *fakeBackend) SetValues(h engine.ArrayHandle, values []float32) error { return nil }

func (f *fakeBackend) Values(h engine.ArrayHandle) ([]float32, error) { return nil, nil }

func (f *fakeBackend) Shape(h engine.ArrayHandle) ([]int, error) { return nil, nil }

func (f *fakeBackend) Context(h engine.ArrayHandle) (engine.Device, error) {
	dev, ok := f.devices[h]
	if !ok {
		return engine.Device{}, fmt.Errorf("no device for handle %d", h)
	}
	return dev, nil
}

func (f *fakeBackend) FreeArray(h engine.ArrayHandle) error {
	f.freed = append(f.freed, h)
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func mustOperator(t *testing.T, backend engine.Backend, name string) (*Engine, *Operator) {
	t.Helper()
	eng, err := New(backend)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	op, ok := eng.Operator(name)
	if !ok {
		t.Fatalf("operator %q not found", name)
	}
	return eng, op
}

func TestArgumentNamesAndTypesAreParallel(t *testing.T) {
	backend := newFakeBackend()
	_, op := mustOperator(t, backend, "elemwise_add")

	names := op.ArgumentNames()
	types := op.ArgumentTypes()
	if len(names) != len(types) {
		t.Fatalf("expected equal lengths, got %d names and %d types", len(names), len(types))
	}
	if names[0] != "lhs" || types[0] != "NDArray-or-Symbol" {
		t.Errorf("index 0 mismatch: %q / %q", names[0], types[0])
	}
	if names[1] != "rhs" || types[1] != "NDArray-or-Symbol" {
		t.Errorf("index 1 mismatch: %q / %q", names[1], types[1])
	}
	if op.Name() != "elemwise_add" {
		t.Errorf("expected name elemwise_add, got %q", op.Name())
	}
}

func TestInvokeWrapsEveryReturnedHandleInOrder(t *testing.T) {
	backend := newFakeBackend()
	backend.invokeResults = []engine.ArrayHandle{41, 42, 43}
	eng, op := mustOperator(t, backend, "elemwise_add")

	mgr := eng.NewManager(engine.CPUDevice())
	defer mgr.Close()

	a, err := mgr.NewArray([]float32{1}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}
	b, err := mgr.NewArray([]float32{2}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}

	results, err := op.Invoke(mgr, []*NDArray{a, b}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if len(results) != len(backend.invokeResults) {
		t.Fatalf("expected %d results, got %d", len(backend.invokeResults), len(results))
	}
	for i, result := range results {
		if result.Handle() != backend.invokeResults[i] {
			t.Errorf("result %d: expected handle %d, got %d", i, backend.invokeResults[i], result.Handle())
		}
	}

	if backend.lastOutputs != nil {
		t.Errorf("allocating invoke must pass nil outputs, got %v", backend.lastOutputs)
	}
	if len(backend.lastInputs) != 2 || backend.lastInputs[0] != a.Handle() || backend.lastInputs[1] != b.Handle() {
		t.Errorf("unexpected input handles: %v", backend.lastInputs)
	}
}

func TestInvokeIntoPropagatesBackendError(t *testing.T) {
	backend := newFakeBackend()
	nativeErr := errors.New("native failure")
	backend.invokeErr = nativeErr
	eng, op := mustOperator(t, backend, "elemwise_add")

	mgr := eng.NewManager(engine.CPUDevice())
	defer mgr.Close()

	a, err := mgr.NewArray([]float32{1}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}
	dest, err := mgr.NewArray([]float32{0}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}

	destArrays := []*NDArray{dest}
	err = op.InvokeInto(mgr, []*NDArray{a, a}, destArrays, nil)
	if !errors.Is(err, nativeErr) {
		t.Fatalf("expected the backend error, got %v", err)
	}
	if len(destArrays) != 1 {
		t.Fatalf("destination count changed: %d", len(destArrays))
	}
}

func TestInvokeIntoSucceedsWithNilError(t *testing.T) {
	backend := newFakeBackend()
	eng, op := mustOperator(t, backend, "elemwise_add")

	mgr := eng.NewManager(engine.CPUDevice())
	defer mgr.Close()

	a, err := mgr.NewArray([]float32{1}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}
	dest, err := mgr.NewArray([]float32{0}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}

	if err := op.InvokeInto(mgr, []*NDArray{a, a}, []*NDArray{dest}, nil); err != nil {
		t.Fatalf("invoke into: %v", err)
	}
	if len(backend.lastOutputs) != 1 || backend.lastOutputs[0] != dest.Handle() {
		t.Errorf("unexpected output handles: %v", backend.lastOutputs)
	}
}

// captureWarnings redirects klog to a buffer at the given verbosity and
// returns the buffer plus a restore func.
func captureWarnings(t *testing.T, verbosity string) (*bytes.Buffer, func()) {
	t.Helper()

	fs := flag.NewFlagSet("klog-test", flag.ContinueOnError)
	klog.InitFlags(fs)
	if err := fs.Set("v", verbosity); err != nil {
		t.Fatalf("setting verbosity: %v", err)
	}
	// Without one_output, klog mirrors each warning to the info stream as
	// well, so a single Warningf would land in the buffer twice.
	if err := fs.Set("one_output", "true"); err != nil {
		t.Fatalf("setting one_output: %v", err)
	}

	var buf bytes.Buffer
	klog.LogToStderr(false)
	klog.SetOutput(&buf)

	return &buf, func() {
		klog.Flush()
		klog.LogToStderr(true)
		if err := fs.Set("v", "0"); err != nil {
			t.Fatalf("resetting verbosity: %v", err)
		}
	}
}

func countWarnings(buf *bytes.Buffer) int {
	klog.Flush()
	return strings.Count(buf.String(), "mixed devices")
}

func TestCheckDevicesWarnsOncePerInvocation(t *testing.T) {
	backend := newFakeBackend()
	backend.invokeResults = []engine.ArrayHandle{50}
	eng, op := mustOperator(t, backend, "elemwise_add")

	cpuMgr := eng.NewManager(engine.CPUDevice())
	defer cpuMgr.Close()
	gpuMgr := eng.NewManager(engine.GPUDevice(0))
	defer gpuMgr.Close()

	onCPU, err := cpuMgr.NewArray([]float32{1}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}
	onGPU, err := gpuMgr.NewArray([]float32{2}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}
	onGPU2, err := gpuMgr.NewArray([]float32{3}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}

	buf, restore := captureWarnings(t, "3")
	defer restore()

	// Three inputs, two of them mismatched against the first: still one warning.
	results, err := op.Invoke(cpuMgr, []*NDArray{onCPU, onGPU, onGPU2}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if n := countWarnings(buf); n != 1 {
		t.Errorf("expected exactly 1 warning, got %d:\n%s", n, buf.String())
	}
}

func TestCheckDevicesSilentWithoutVerbosity(t *testing.T) {
	backend := newFakeBackend()
	backend.invokeResults = []engine.ArrayHandle{50}
	eng, op := mustOperator(t, backend, "elemwise_add")

	cpuMgr := eng.NewManager(engine.CPUDevice())
	defer cpuMgr.Close()
	gpuMgr := eng.NewManager(engine.GPUDevice(0))
	defer gpuMgr.Close()

	onCPU, err := cpuMgr.NewArray([]float32{1}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}
	onGPU, err := gpuMgr.NewArray([]float32{2}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}

	buf, restore := captureWarnings(t, "0")
	defer restore()

	results, err := op.Invoke(cpuMgr, []*NDArray{onCPU, onGPU}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if n := countWarnings(buf); n != 0 {
		t.Errorf("expected no warnings, got %d:\n%s", n, buf.String())
	}
}

func TestCheckDevicesQuietForMatchingDevices(t *testing.T) {
	backend := newFakeBackend()
	backend.invokeResults = []engine.ArrayHandle{50}
	eng, op := mustOperator(t, backend, "elemwise_add")

	mgr := eng.NewManager(engine.CPUDevice())
	defer mgr.Close()

	a, err := mgr.NewArray([]float32{1}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}
	b, err := mgr.NewArray([]float32{2}, []int{1})
	if err != nil {
		t.Fatalf("creating array: %v", err)
	}

	buf, restore := captureWarnings(t, "3")
	defer restore()

	if _, err := op.Invoke(mgr, []*NDArray{a, b}, nil); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if n := countWarnings(buf); n != 0 {
		t.Errorf("expected no warnings, got %d:\n%s", n, buf.String())
	}
}
