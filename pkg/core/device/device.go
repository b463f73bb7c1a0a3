// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package device handles canonical device strings ("cpu", "gpu:<N>", "tpu:<N>"), the default device
// stack, per-device split factors and device memory/utilization telemetry.
//
// Backend-native device handles never leave the backends: they are translated to and from the canonical
// strings defined here at the backend boundary.
package device

import (
	"strconv"

	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// Kind of device.
type Kind string

const (
	KindCPU Kind = "cpu"
	KindGPU Kind = "gpu"
	KindTPU Kind = "tpu"
)

// CPU is the canonical string for the host device.
const CPU = "cpu"

// Device is the parsed form of a canonical device string.
type Device struct {
	Kind Kind
	// Index of the device, always 0 for the CPU.
	Index int
}

// String returns the canonical string.
func (d Device) String() string {
	if d.Kind == KindCPU {
		return CPU
	}
	return string(d.Kind) + ":" + strconv.Itoa(d.Index)
}

// GPU returns the canonical string of the GPU with the given index.
func GPU(index int) string { return Device{Kind: KindGPU, Index: index}.String() }

// TPU returns the canonical string of the TPU with the given index.
func TPU(index int) string { return Device{Kind: KindTPU, Index: index}.String() }

// Validate checks the device string format: the prefix must be one of cpu, gpu or tpu, and if it is not
// "cpu", the 4th character must be ':' followed only by digits.
func Validate(dev string) error {
	_, err := Parse(dev)
	return err
}

// Parse a canonical device string.
func Parse(dev string) (Device, error) {
	if dev == CPU {
		return Device{Kind: KindCPU}, nil
	}
	if len(dev) < 5 {
		return Device{}, errdefs.Configurationf("invalid device string %q, it must be of the form \"cpu\", "+
			"\"gpu:<idx>\" or \"tpu:<idx>\"", dev)
	}
	kind := Kind(dev[:3])
	if kind != KindGPU && kind != KindTPU {
		return Device{}, errdefs.Configurationf("invalid device string %q, prefix must be one of cpu, gpu or tpu", dev)
	}
	if dev[3] != ':' {
		return Device{}, errdefs.Configurationf("invalid device string %q, expected ':' after %q", dev, kind)
	}
	digits := dev[4:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Device{}, errdefs.Configurationf("invalid device string %q, index must be a non-negative integer", dev)
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return Device{}, errdefs.Configurationf("invalid device string %q, index can't have leading zeros", dev)
	}
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return Device{}, errdefs.Configurationf("invalid device string %q: %v", dev, err)
	}
	return Device{Kind: kind, Index: idx}, nil
}

// IsGPU returns whether dev is a well-formed GPU device string.
func IsGPU(dev string) bool {
	d, err := Parse(dev)
	return err == nil && d.Kind == KindGPU
}
