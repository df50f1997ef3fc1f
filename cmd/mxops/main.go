package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/gomx/gomx/pkg/engine"
	"github.com/gomx/gomx/pkg/engine/mxnet"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var opName string
	var lhs, rhs string
	var rawParams string
	var deviceName string
	flag.StringVar(&opName, "op", "", "operator to invoke; empty lists all operators")
	flag.StringVar(&lhs, "lhs", "", "first input, comma-separated floats")
	flag.StringVar(&rhs, "rhs", "", "second input, comma-separated floats")
	flag.StringVar(&rawParams, "params", "", "operator parameters, key=value comma-separated")
	flag.StringVar(&deviceName, "device", "cpu", "device to place inputs on (cpu, gpu, gpu:1, ...)")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	backend := newBackend()
	eng, err := mxnet.New(backend)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer eng.Close()

	if opName == "" {
		return listOperators(eng)
	}

	op, ok := eng.Operator(opName)
	if !ok {
		return fmt.Errorf("unknown operator %q", opName)
	}

	dev, err := parseDevice(deviceName)
	if err != nil {
		return err
	}

	mgr := eng.NewManager(dev)
	defer mgr.Close()

	var src []*mxnet.NDArray
	for _, raw := range []string{lhs, rhs} {
		if raw == "" {
			continue
		}
		values, err := parseFloats(raw)
		if err != nil {
			return fmt.Errorf("parsing input %q: %w", raw, err)
		}
		a, err := mgr.NewArray(values, []int{len(values)})
		if err != nil {
			return err
		}
		src = append(src, a)
	}

	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	log.Info("invoking operator", "op", op.Name(), "inputs", len(src), "device", dev)

	results, err := op.Invoke(mgr, src, params)
	if err != nil {
		return err
	}

	for i, result := range results {
		values, err := result.Values()
		if err != nil {
			return fmt.Errorf("reading result %d: %w", i, err)
		}
		shape, err := result.Shape()
		if err != nil {
			return fmt.Errorf("reading result %d shape: %w", i, err)
		}
		fmt.Printf("output[%d] shape=%v values=%v\n", i, shape, values)
	}

	return nil
}

func listOperators(eng *mxnet.Engine) error {
	for _, name := range eng.OperatorNames() {
		op, _ := eng.Operator(name)
		fmt.Printf("%s\n", name)
		argNames := op.ArgumentNames()
		argTypes := op.ArgumentTypes()
		for i := range argNames {
			fmt.Printf("  %s: %s\n", argNames[i], argTypes[i])
		}
	}
	return nil
}

func parseFloats(raw string) ([]float32, error) {
	fields := strings.Split(raw, ",")
	values := make([]float32, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return nil, err
		}
		values[i] = float32(v)
	}
	return values, nil
}

func parseParams(raw string) (*engine.PairList, error) {
	params := engine.NewPairList()
	if raw == "" {
		return params, nil
	}
	for _, field := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(field, "=")
		if !found {
			return nil, fmt.Errorf("parameter %q is not key=value", field)
		}
		params.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return params, nil
}

func parseDevice(raw string) (engine.Device, error) {
	name, ordinal, hasOrdinal := strings.Cut(raw, ":")
	id := 0
	if hasOrdinal {
		parsed, err := strconv.Atoi(ordinal)
		if err != nil {
			return engine.Device{}, fmt.Errorf("parsing device %q: %w", raw, err)
		}
		id = parsed
	}
	switch name {
	case "cpu":
		return engine.Device{Type: engine.CPU, ID: id}, nil
	case "gpu":
		return engine.GPUDevice(id), nil
	default:
		return engine.Device{}, fmt.Errorf("unknown device %q", raw)
	}
}
