// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package jax implements the "jax" backend: immutable arrays with automatic differentiation.
package jax

import (
	"fmt"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/backends/simplego"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// BackendName to be used in MULTIFRAME_BACKEND to specify this backend.
const BackendName = backends.JAX

func init() {
	backends.Register(BackendName, New)
}

// DTypes maps canonical dtypes to jax.numpy's names.
var DTypes = dtypes.MustNewTable(BackendName, map[string]string{
	dtypes.Bool:       "jnp.bool_",
	dtypes.Int8:       "jnp.int8",
	dtypes.Int16:      "jnp.int16",
	dtypes.Int32:      "jnp.int32",
	dtypes.Int64:      "jnp.int64",
	dtypes.Uint8:      "jnp.uint8",
	dtypes.Uint16:     "jnp.uint16",
	dtypes.Uint32:     "jnp.uint32",
	dtypes.Uint64:     "jnp.uint64",
	dtypes.BFloat16:   "jnp.bfloat16",
	dtypes.Float16:    "jnp.float16",
	dtypes.Float32:    "jnp.float32",
	dtypes.Float64:    "jnp.float64",
	dtypes.Complex64:  "jnp.complex64",
	dtypes.Complex128: "jnp.complex128",
})

// Device is jax's native device handle.
type Device struct {
	// Platform is one of "cpu", "gpu" or "tpu".
	Platform string
	ID       int
}

// String implements fmt.Stringer.
func (d Device) String() string { return fmt.Sprintf("%s(id=%d)", d.Platform, d.ID) }

// Codec converts between canonical devices and Device.
type Codec struct{}

// ToNative implements simplego.DeviceCodec.
func (Codec) ToNative(dev device.Device) (any, error) {
	return Device{Platform: string(dev.Kind), ID: dev.Index}, nil
}

// FromNative implements simplego.DeviceCodec.
func (Codec) FromNative(native any) (device.Device, error) {
	var d Device
	switch v := native.(type) {
	case Device:
		d = v
	case *Device:
		if v == nil {
			return device.Device{}, errdefs.Configurationf("nil jax device")
		}
		d = *v
	default:
		return device.Device{}, errdefs.Configurationf("invalid jax device %v (%T)", native, native)
	}
	if d.ID < 0 {
		return device.Device{}, errdefs.Configurationf("invalid jax device id %d", d.ID)
	}
	switch device.Kind(d.Platform) {
	case device.KindCPU:
		return device.Device{Kind: device.KindCPU}, nil
	case device.KindGPU, device.KindTPU:
		return device.Device{Kind: device.Kind(d.Platform), Index: d.ID}, nil
	}
	return device.Device{}, errdefs.Configurationf("invalid jax platform %q", d.Platform)
}

// New constructs the jax backend. Configuration: "gpus=<n>,tpus=<n>".
func New(config string) (backends.Backend, error) {
	gpus, tpus, err := simplego.ParseDeviceConfig(config)
	if err != nil {
		return nil, err
	}
	return simplego.New(BackendName, Codec{}, DTypes, simplego.Options{
		Description: "JAX (immutable arrays)",
		NumGPUs:     gpus,
		NumTPUs:     tpus,
		Autodiff:    true,
		ReduceMean:  true,
	}), nil
}
