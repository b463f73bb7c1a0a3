// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numpy implements the CPU-only "numpy" backend: mutable arrays, no automatic differentiation,
// and "cpu" as its only native device.
//
// Import it for its side effect of registering the backend:
//
//	import _ "github.com/gomlx/multiframe/backends/numpy"
package numpy

import (
	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/backends/simplego"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// BackendName to be used in MULTIFRAME_BACKEND to specify this backend.
const BackendName = backends.NumPy

func init() {
	backends.Register(BackendName, New)
}

// DTypes maps canonical dtypes to numpy's names. numpy has no bfloat16.
var DTypes = dtypes.MustNewTable(BackendName, map[string]string{
	dtypes.Bool:       "bool",
	dtypes.Int8:       "int8",
	dtypes.Int16:      "int16",
	dtypes.Int32:      "int32",
	dtypes.Int64:      "int64",
	dtypes.Uint8:      "uint8",
	dtypes.Uint16:     "uint16",
	dtypes.Uint32:     "uint32",
	dtypes.Uint64:     "uint64",
	dtypes.Float16:    "float16",
	dtypes.Float32:    "float32",
	dtypes.Float64:    "float64",
	dtypes.Complex64:  "complex64",
	dtypes.Complex128: "complex128",
})

// Codec converts devices: the only native device is the string "cpu".
type Codec struct{}

// ToNative implements simplego.DeviceCodec.
func (Codec) ToNative(dev device.Device) (any, error) {
	if dev.Kind != device.KindCPU {
		return nil, errdefs.Unsupportedf("numpy only supports the cpu, can't use device %q", dev)
	}
	return device.CPU, nil
}

// FromNative implements simplego.DeviceCodec.
func (Codec) FromNative(native any) (device.Device, error) {
	if s, ok := native.(string); ok && s == device.CPU {
		return device.Device{Kind: device.KindCPU}, nil
	}
	return device.Device{}, errdefs.Configurationf("invalid numpy device %v (%T), only \"cpu\" is valid", native, native)
}

// New constructs the numpy backend. The configuration is validated but accelerators are ignored.
func New(config string) (backends.Backend, error) {
	if _, _, err := simplego.ParseDeviceConfig(config); err != nil {
		return nil, err
	}
	return simplego.New(BackendName, Codec{}, DTypes, simplego.Options{
		Description: "NumPy (CPU only, no autodiff)",
		CPUOnly:     true,
		Inplace:     true,
		ReduceMean:  true,
	}), nil
}
