// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multidev

import (
	"fmt"
	"slices"

	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/core/shapes"
)

// Allocation of a dimension across devices: either only the Devices (the dimension is split as evenly as
// possible) or the Devices with the explicit chunk size of each.
type Allocation struct {
	Devices []string

	// Sizes, if not nil, holds one chunk size per device.
	Sizes []int
}

// OnDevices returns an Allocation that splits evenly across devs.
func OnDevices(devs ...string) Allocation {
	return Allocation{Devices: slices.Clone(devs)}
}

// WithSizes returns an Allocation with the explicit chunk sizes per device, in the order of devs.
// Devices missing from sizes get 0, which Resolve rejects.
func WithSizes(devs []string, sizes map[string]int) Allocation {
	alloc := Allocation{Devices: slices.Clone(devs), Sizes: make([]int, len(devs))}
	for ii, dev := range devs {
		alloc.Sizes[ii] = sizes[dev]
	}
	return alloc
}

// SplitSizes partitions dim into n chunks, the earliest chunks taking one extra element each when dim is
// not divisible by n. It returns an ErrConfiguration if dim < n.
func SplitSizes(dim, n int) ([]int, error) {
	return shapes.SplitSizes(dim, n)
}

// Resolve returns the chunk size of each device for a dimension of size dim.
func (a Allocation) Resolve(dim int) ([]int, error) {
	if err := checkDevices(a.Devices); err != nil {
		return nil, err
	}
	if a.Sizes == nil {
		return SplitSizes(dim, len(a.Devices))
	}
	if len(a.Sizes) != len(a.Devices) {
		return nil, errdefs.Configurationf("allocation has %d sizes for %d devices", len(a.Sizes), len(a.Devices))
	}
	if err := shapes.CheckSplitSizes(dim, a.Sizes); err != nil {
		return nil, err
	}
	return slices.Clone(a.Sizes), nil
}

// String implements fmt.Stringer.
func (a Allocation) String() string {
	if a.Sizes == nil {
		return fmt.Sprintf("%v", a.Devices)
	}
	return fmt.Sprintf("%v:%v", a.Devices, a.Sizes)
}
