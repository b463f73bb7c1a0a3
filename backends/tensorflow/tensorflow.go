// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensorflow implements the "tensorflow" backend: immutable arrays with automatic differentiation.
// Native devices are TensorFlow device names, e.g.: "/GPU:0".
package tensorflow

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
const BackendName = backends.TensorFlow

func init() {
	backends.Register(BackendName, New)
}

// DTypes maps canonical dtypes to TensorFlow's names.
var DTypes = dtypes.MustNewTable(BackendName, map[string]string{
	dtypes.Bool:       "tf.bool",
	dtypes.Int8:       "tf.int8",
	dtypes.Int16:      "tf.int16",
	dtypes.Int32:      "tf.int32",
	dtypes.Int64:      "tf.int64",
	dtypes.Uint8:      "tf.uint8",
	dtypes.Uint16:     "tf.uint16",
	dtypes.Uint32:     "tf.uint32",
	dtypes.Uint64:     "tf.uint64",
	dtypes.BFloat16:   "tf.bfloat16",
	dtypes.Float16:    "tf.float16",
	dtypes.Float32:    "tf.float32",
	dtypes.Float64:    "tf.float64",
	dtypes.Complex64:  "tf.complex64",
	dtypes.Complex128: "tf.complex128",
})

// Codec converts between canonical devices and TensorFlow device names.
type Codec struct{}

// ToNative implements simplego.DeviceCodec.
func (Codec) ToNative(dev device.Device) (any, error) {
	return fmt.Sprintf("/%s:%d", strings.ToUpper(string(dev.Kind)), dev.Index), nil
}

// FromNative implements simplego.DeviceCodec. Both the short ("/GPU:0") and the fully qualified
// ("/job:localhost/replica:0/task:0/device:GPU:0") forms are accepted.
func (Codec) FromNative(native any) (device.Device, error) {
	s, ok := native.(string)
	if !ok {
		return device.Device{}, errdefs.Configurationf("invalid tensorflow device %v (%T), it must be a string", native, native)
	}
	name := s
	if idx := strings.LastIndex(name, "device:"); idx >= 0 {
		name = name[idx+len("device:"):]
	}
	name = strings.TrimPrefix(name, "/")
	kind, idxStr, found := strings.Cut(name, ":")
	if !found {
		return device.Device{}, errdefs.Configurationf("invalid tensorflow device %q", s)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return device.Device{}, errdefs.Configurationf("invalid tensorflow device %q", s)
	}
	switch strings.ToLower(kind) {
	case "cpu":
		return device.Device{Kind: device.KindCPU}, nil
	case "gpu":
		return device.Device{Kind: device.KindGPU, Index: idx}, nil
	case "tpu":
		return device.Device{Kind: device.KindTPU, Index: idx}, nil
	}
	return device.Device{}, errdefs.Configurationf("invalid tensorflow device type in %q", s)
}

// New constructs the tensorflow backend. Configuration: "gpus=<n>,tpus=<n>".
func New(config string) (backends.Backend, error) {
	gpus, tpus, err := simplego.ParseDeviceConfig(config)
	if err != nil {
		return nil, err
	}
	return simplego.New(BackendName, Codec{}, DTypes, simplego.Options{
		Description: "TensorFlow (immutable arrays)",
		NumGPUs:     gpus,
		NumTPUs:     tpus,
		Autodiff:    true,
		ReduceMean:  true,
	}), nil
}
