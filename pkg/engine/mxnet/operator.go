package mxnet

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/gomx/gomx/pkg/engine"
)

// Operator is one native operator (a "function" in MXNet terms), captured as
// an immutable descriptor plus the boundary to invoke it through. Operators
// are built once, when the Engine enumerates the backend, and stay valid for
// the Engine's lifetime.
//
// An Operator holds no mutable state and performs no locking; concurrent use
// is safe exactly insofar as the backend and the arrays involved tolerate it.
type Operator struct {
	backend   engine.Backend
	handle    engine.OpHandle
	name      string
	arguments *engine.PairList
}

// Invoke executes the operator on src, letting the engine allocate the result
// arrays. Every returned handle is wrapped into a new NDArray attributed to
// mgr, which becomes responsible for releasing it.
//
// The number of results is decided entirely by the operator; this layer does
// not validate arity against the declared arguments. Native failures are
// returned unchanged.
func (o *Operator) Invoke(mgr *NDManager, src []*NDArray, params *engine.PairList) ([]*NDArray, error) {
	o.checkDevices(src)

	outputs, err := o.backend.ImperativeInvoke(o.handle, handlesOf(src), nil, params)
	if err != nil {
		return nil, fmt.Errorf("invoking operator %q: %w", o.name, err)
	}

	results := make([]*NDArray, len(outputs))
	for i, h := range outputs {
		results[i] = mgr.Create(h)
	}
	return results, nil
}

// InvokeInto executes the operator on src, overwriting the pre-allocated
// arrays in dest in place. mgr is accepted for symmetry with Invoke and is
// not otherwise used: dest already has owners.
//
// A nil return means the backend reported success; native failures come back
// as errors, never swallowed into a status code.
func (o *Operator) InvokeInto(mgr *NDManager, src, dest []*NDArray, params *engine.PairList) error {
	o.checkDevices(src)
	o.checkDevices(dest)

	if _, err := o.backend.ImperativeInvoke(o.handle, handlesOf(src), handlesOf(dest), params); err != nil {
		return fmt.Errorf("invoking operator %q: %w", o.name, err)
	}
	return nil
}

// Name returns the operator's name.
func (o *Operator) Name() string {
	return o.name
}

// ArgumentNames returns the declared argument names, in declaration order.
func (o *Operator) ArgumentNames() []string {
	return o.arguments.Keys()
}

// ArgumentTypes returns the declared argument type tags, index-aligned with
// ArgumentNames.
func (o *Operator) ArgumentTypes() []string {
	return o.arguments.Values()
}

// checkDevices warns when the arrays are not all on the same device. Purely
// diagnostic: it never blocks the call, emits at most one warning per checked
// sequence, and is skipped entirely unless verbose logging is enabled.
func (o *Operator) checkDevices(arrays []*NDArray) {
	if !klog.V(3).Enabled() || len(arrays) < 2 {
		return
	}
	first := arrays[0].Device()
	for _, a := range arrays[1:] {
		if !a.Device().Equal(first) {
			klog.Warningf("operator %q called with arrays on mixed devices (%s vs %s); copy them onto a common device before invoking", o.name, first, a.Device())
			return
		}
	}
}

// handlesOf never returns nil: a nil result would read as "let the engine
// allocate" at the boundary.
func handlesOf(arrays []*NDArray) []engine.ArrayHandle {
	handles := make([]engine.ArrayHandle, len(arrays))
	for i, a := range arrays {
		handles[i] = a.Handle()
	}
	return handles
}
