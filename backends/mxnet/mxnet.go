// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mxnet implements the "mxnet" backend: mutable arrays with automatic differentiation, on cpu
// and gpu contexts only.
//
// Its scatter_flat only supports the "replace" reduction, and it has no native reduce_mean.
package mxnet

import (
	"fmt"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/backends/simplego"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// BackendName to be used in MULTIFRAME_BACKEND to specify this backend.
const BackendName = backends.MXNet

func init() {
	backends.Register(BackendName, New)
}

// DTypes maps canonical dtypes to mxnet's names.
var DTypes = dtypes.MustNewTable(BackendName, map[string]string{
	dtypes.Bool:    "mx.bool",
	dtypes.Int8:    "mx.int8",
	dtypes.Int32:   "mx.int32",
	dtypes.Int64:   "mx.int64",
	dtypes.Uint8:   "mx.uint8",
	dtypes.Float16: "mx.float16",
	dtypes.Float32: "mx.float32",
	dtypes.Float64: "mx.float64",
})

// Context is mxnet's native device handle.
type Context struct {
	// DeviceType is either "cpu" or "gpu".
	DeviceType string
	DeviceID   int
}

// String implements fmt.Stringer.
func (c Context) String() string { return fmt.Sprintf("%s(%d)", c.DeviceType, c.DeviceID) }

// Codec converts between canonical devices and Context.
type Codec struct{}

// ToNative implements simplego.DeviceCodec.
func (Codec) ToNative(dev device.Device) (any, error) {
	if dev.Kind == device.KindTPU {
		return nil, errdefs.Unsupportedf("mxnet doesn't support TPUs, can't use device %q", dev)
	}
	return Context{DeviceType: string(dev.Kind), DeviceID: dev.Index}, nil
}

// FromNative implements simplego.DeviceCodec.
func (Codec) FromNative(native any) (device.Device, error) {
	var c Context
	switch v := native.(type) {
	case Context:
		c = v
	case *Context:
		if v == nil {
			return device.Device{}, errdefs.Configurationf("nil mxnet context")
		}
		c = *v
	default:
		return device.Device{}, errdefs.Configurationf("invalid mxnet context %v (%T)", native, native)
	}
	switch {
	case c.DeviceID < 0:
		return device.Device{}, errdefs.Configurationf("invalid mxnet device id %d", c.DeviceID)
	case c.DeviceType == "cpu":
		return device.Device{Kind: device.KindCPU}, nil
	case c.DeviceType == "gpu":
		return device.Device{Kind: device.KindGPU, Index: c.DeviceID}, nil
	}
	return device.Device{}, errdefs.Configurationf("invalid mxnet device type %q", c.DeviceType)
}

// New constructs the mxnet backend. Configuration: "gpus=<n>"; TPUs are not supported.
func New(config string) (backends.Backend, error) {
	gpus, tpus, err := simplego.ParseDeviceConfig(config)
	if err != nil {
		return nil, err
	}
	if tpus > 0 {
		return nil, errdefs.Unsupportedf("mxnet doesn't support TPUs (configuration %q)", config)
	}
	return simplego.New(BackendName, Codec{}, DTypes, simplego.Options{
		Description:       "MXNet (no TPU support)",
		NumGPUs:           gpus,
		Inplace:           true,
		Autodiff:          true,
		ScatterReductions: []string{simplego.ScatterReplace},
	}), nil
}
