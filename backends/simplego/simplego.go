// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements simple, and not very fast, but very portable host kernels shared by the
// framework backends.
//
// Arrays are Tensor values holding their elements as a flat []float64, whatever their dtype: values are
// rounded to the dtype on creation and on conversions. Devices other than the host are simulated: a Tensor
// records its canonical device, and moving it across devices copies it.
//
// Base assembles a complete backends.Backend from a name, a DeviceCodec with the framework's native device
// handle conventions, a dtype table and Options describing the framework's capabilities.
package simplego

import (
	"maps"
	"strconv"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// DeviceCodec converts between canonical device strings and a framework's native device handles.
type DeviceCodec interface {
	// ToNative converts a parsed canonical device to the native handle.
	ToNative(dev device.Device) (any, error)

	// FromNative converts a native handle to a canonical device.
	FromNative(native any) (device.Device, error)
}

// Options describe the capabilities of a framework backend.
type Options struct {
	// Description of the backend.
	Description string

	// NumGPUs and NumTPUs are the number of simulated accelerators.
	NumGPUs, NumTPUs int

	// CPUOnly backends refuse to place arrays on any accelerator.
	CPUOnly bool

	// Inplace is set for frameworks with mutable arrays: it enables inplace_update and the `out` argument.
	Inplace bool

	// Autodiff is set for frameworks with automatic differentiation: it enables stop_gradient and variable.
	Autodiff bool

	// ReduceMean enables the native reduce_mean. Otherwise, it is backfilled by the generic namespace.
	ReduceMean bool

	// ScatterReductions restricts the reductions supported by scatter_flat. If nil, all are supported.
	ScatterReductions []string
}

// ParseDeviceConfig parses a backend configuration of the form "gpus=<n>,tpus=<n>".
// Unknown keys or invalid counts are an ErrConfiguration.
func ParseDeviceConfig(config string) (numGPUs, numTPUs int, err error) {
	options, err := backends.ParseConfig(config)
	if err != nil {
		return 0, 0, err
	}
	for key, value := range options {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, 0, errdefs.Configurationf("invalid value %q for backend configuration %q, "+
				"it must be a non-negative integer", value, key)
		}
		switch key {
		case "gpus":
			numGPUs = n
		case "tpus":
			numTPUs = n
		default:
			return 0, 0, errdefs.Configurationf("unknown backend configuration key %q in %q, "+
				"valid keys are \"gpus\" and \"tpus\"", key, config)
		}
	}
	return numGPUs, numTPUs, nil
}

// Base implements backends.Backend with the simplego kernels.
type Base struct {
	name   string
	codec  DeviceCodec
	dtypes *dtypes.Table
	opts   Options
	ops    backends.Table
}

// Compile-time check that simplego.Base implements backends.Backend.
var _ backends.Backend = &Base{}

// New creates a Base backend with the given name, which is also the framework tag of its arrays.
func New(name string, codec DeviceCodec, table *dtypes.Table, opts Options) *Base {
	b := &Base{
		name:   name,
		codec:  codec,
		dtypes: table,
		opts:   opts,
	}
	if b.opts.CPUOnly {
		b.opts.NumGPUs, b.opts.NumTPUs = 0, 0
	}
	b.ops = b.buildOps()
	return b
}

func (b *Base) buildOps() backends.Table {
	ops := backends.Table{
		backends.OpArray:               b.opArray,
		backends.OpZeros:               b.opZeros,
		backends.OpToDev:               b.opToDev,
		backends.OpDev:                 b.opDev,
		backends.OpDevToStr:            b.opDevToStr,
		backends.OpDevFromStr:          b.opDevFromStr,
		backends.OpGPUIsAvailable:      func(*backends.Call) (any, error) { return b.GPUIsAvailable(), nil },
		backends.OpNumGPUs:             func(*backends.Call) (any, error) { return b.NumGPUs(), nil },
		backends.OpTPUIsAvailable:      func(*backends.Call) (any, error) { return b.TPUIsAvailable(), nil },
		backends.OpConcat:              b.opConcat,
		backends.OpSplit:               b.opSplit,
		backends.OpAdd:                 b.binaryOp(opAdd),
		backends.OpMultiply:            b.binaryOp(opMultiply),
		backends.OpDivide:              b.binaryOp(opDivide),
		backends.OpReduceSum:           b.opReduceSum,
		backends.OpAstype:              b.opAstype,
		backends.OpToList:              b.opToList,
		backends.OpScatterFlat:         b.opScatterFlat,
		backends.OpCurrentFrameworkStr: func(*backends.Call) (any, error) { return b.name, nil },
	}
	if b.opts.ReduceMean {
		ops[backends.OpReduceMean] = b.opReduceMean
	}
	if b.opts.Autodiff {
		ops[backends.OpStopGradient] = b.opStopGradient
		ops[backends.OpVariable] = b.opVariable
	}
	if b.opts.Inplace {
		ops[backends.OpInplaceUpdate] = b.opInplaceUpdate
	}
	return ops
}

// Name returns the framework name.
func (b *Base) Name() string { return b.name }

// String implements fmt.Stringer.
func (b *Base) String() string { return b.name }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Base) Description() string {
	if b.opts.Description != "" {
		return b.opts.Description
	}
	return b.name + " (simplego host kernels)"
}

// Ops returns a copy of the operations table.
func (b *Base) Ops() backends.Table { return maps.Clone(b.ops) }

// DTypes returns the dtype table.
func (b *Base) DTypes() *dtypes.Table { return b.dtypes }

// Options returns the capabilities the backend was created with.
func (b *Base) Options() Options { return b.opts }

// GPUIsAvailable implements backends.Backend.
func (b *Base) GPUIsAvailable() bool { return b.opts.NumGPUs > 0 }

// NumGPUs implements backends.Backend.
func (b *Base) NumGPUs() int { return b.opts.NumGPUs }

// TPUIsAvailable implements backends.Backend.
func (b *Base) TPUIsAvailable() bool { return b.opts.NumTPUs > 0 }

// SupportsInplace implements backends.Backend.
func (b *Base) SupportsInplace() bool { return b.opts.Inplace }

// IsNativeArray returns whether x is a Tensor created by this framework.
func (b *Base) IsNativeArray(x any) bool {
	t, ok := x.(*Tensor)
	return ok && t.framework == b.name
}

// Finalize is a no-op: memory is managed by Go.
func (b *Base) Finalize() {}

// checkDevice parses dev and checks it is available in this backend.
func (b *Base) checkDevice(dev string) (device.Device, error) {
	d, err := device.Parse(dev)
	if err != nil {
		return d, err
	}
	switch d.Kind {
	case device.KindGPU:
		if b.opts.CPUOnly {
			return d, errdefs.Unsupportedf("backend %q only supports the cpu, it can't use device %q", b.name, dev)
		}
		if d.Index >= b.opts.NumGPUs {
			return d, errdefs.Unsupportedf("backend %q has %d GPUs, device %q is not available", b.name, b.opts.NumGPUs, dev)
		}
	case device.KindTPU:
		if b.opts.CPUOnly {
			return d, errdefs.Unsupportedf("backend %q only supports the cpu, it can't use device %q", b.name, dev)
		}
		if d.Index >= b.opts.NumTPUs {
			return d, errdefs.Unsupportedf("backend %q has %d TPUs, device %q is not available", b.name, b.opts.NumTPUs, dev)
		}
	}
	return d, nil
}

// placement returns the device where to create an array: "cpu" if dev is empty.
func (b *Base) placement(dev string) (string, error) {
	if dev == "" {
		return device.CPU, nil
	}
	if _, err := b.checkDevice(dev); err != nil {
		return "", err
	}
	return dev, nil
}

// Dev returns the native device handle of x.
func (b *Base) Dev(x backends.Array) (any, error) {
	if !b.IsNativeArray(x) {
		return nil, errdefs.Configurationf("backend %q can't get the device of a %T (framework %q)", b.name, x, frameworkOf(x))
	}
	d, err := device.Parse(x.Device())
	if err != nil {
		return nil, err
	}
	return b.codec.ToNative(d)
}

// DevFromStr converts a canonical device string to the native device handle.
func (b *Base) DevFromStr(dev string) (any, error) {
	d, err := b.checkDevice(dev)
	if err != nil {
		return nil, err
	}
	return b.codec.ToNative(d)
}

// DevToStr converts a native device handle to the canonical device string.
func (b *Base) DevToStr(native any) (string, error) {
	d, err := b.codec.FromNative(native)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

func frameworkOf(x any) string {
	if arr, ok := x.(backends.Array); ok && arr != nil {
		return arr.Framework()
	}
	return ""
}
