// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package torch implements the "torch" backend: mutable arrays with automatic differentiation, on
// "cpu", "cuda" and "xla" devices.
package torch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/backends/simplego"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// BackendName to be used in MULTIFRAME_BACKEND to specify this backend.
const BackendName = backends.Torch

func init() {
	backends.Register(BackendName, New)
}

// DTypes maps canonical dtypes to torch's names.
var DTypes = dtypes.MustNewTable(BackendName, map[string]string{
	dtypes.Bool:       "torch.bool",
	dtypes.Int8:       "torch.int8",
	dtypes.Int16:      "torch.int16",
	dtypes.Int32:      "torch.int32",
	dtypes.Int64:      "torch.int64",
	dtypes.Uint8:      "torch.uint8",
	dtypes.BFloat16:   "torch.bfloat16",
	dtypes.Float16:    "torch.float16",
	dtypes.Float32:    "torch.float32",
	dtypes.Float64:    "torch.float64",
	dtypes.Complex64:  "torch.complex64",
	dtypes.Complex128: "torch.complex128",
})

// Device is torch's native device handle.
type Device struct {
	// Type is one of "cpu", "cuda" or "xla".
	Type  string
	Index int
}

// String returns the torch form of the device, e.g.: "cuda:0".
func (d Device) String() string {
	if d.Type == "cpu" {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Type, d.Index)
}

var kindToType = map[device.Kind]string{
	device.KindCPU: "cpu",
	device.KindGPU: "cuda",
	device.KindTPU: "xla",
}

// Codec converts between canonical devices and Device.
type Codec struct{}

// ToNative implements simplego.DeviceCodec.
func (Codec) ToNative(dev device.Device) (any, error) {
	return Device{Type: kindToType[dev.Kind], Index: dev.Index}, nil
}

// FromNative implements simplego.DeviceCodec. It accepts a Device, a *Device or its string form.
func (Codec) FromNative(native any) (device.Device, error) {
	var d Device
	switch v := native.(type) {
	case Device:
		d = v
	case *Device:
		if v == nil {
			return device.Device{}, errdefs.Configurationf("nil torch device")
		}
		d = *v
	case string:
		var err error
		d, err = ParseDevice(v)
		if err != nil {
			return device.Device{}, err
		}
	default:
		return device.Device{}, errdefs.Configurationf("invalid torch device %v (%T)", native, native)
	}
	for kind, typ := range kindToType {
		if typ == d.Type {
			if kind == device.KindCPU {
				return device.Device{Kind: kind}, nil
			}
			return device.Device{Kind: kind, Index: d.Index}, nil
		}
	}
	return device.Device{}, errdefs.Configurationf("invalid torch device type %q", d.Type)
}

// ParseDevice parses torch's string form of a device, e.g.: "cuda:1". A missing index means 0.
func ParseDevice(s string) (Device, error) {
	typ, idxStr, hasIdx := strings.Cut(s, ":")
	d := Device{Type: typ}
	if hasIdx {
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 {
			return Device{}, errdefs.Configurationf("invalid torch device %q", s)
		}
		d.Index = idx
	}
	return d, nil
}

// New constructs the torch backend. Configuration: "gpus=<n>,tpus=<n>".
func New(config string) (backends.Backend, error) {
	gpus, tpus, err := simplego.ParseDeviceConfig(config)
	if err != nil {
		return nil, err
	}
	return simplego.New(BackendName, Codec{}, DTypes, simplego.Options{
		Description: "PyTorch",
		NumGPUs:     gpus,
		NumTPUs:     tpus,
		Inplace:     true,
		Autodiff:    true,
		ReduceMean:  true,
	}), nil
}
