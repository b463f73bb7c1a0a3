// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multidev

import (
	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DistArray splits x along axis into one contiguous chunk per device of alloc, and moves each chunk to its
// device.
func DistArray(ops Ops, x backends.Array, alloc Allocation, axis int) (*Item, error) {
	shape := x.Shape()
	if shape.IsScalar() {
		return nil, errdefs.Configurationf("can't distribute a scalar across devices %v", alloc.Devices)
	}
	adjusted, err := shape.AdjustAxis(axis)
	if err != nil {
		return nil, err
	}
	sizes, err := alloc.Resolve(shape.Dimensions[adjusted])
	if err != nil {
		return nil, errors.WithMessagef(err, "distributing array of shape %s", shape)
	}
	parts, err := ops.Split(x, adjusted, sizes, true)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(parts))
	for ii, part := range parts {
		values[ii], err = ops.ToDev(part, alloc.Devices[ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "moving chunk #%d to %q", ii, alloc.Devices[ii])
		}
	}
	klog.V(3).Infof("distributed array %s across %s", shape, alloc)
	return NewItem(Distributed, alloc.Devices, values, adjusted)
}

// Dist distributes x: arrays with DistArray, Distributable values with their DevDist method. Any other
// value is returned unchanged.
func Dist(ops Ops, x any, alloc Allocation, axis int) (any, error) {
	switch v := x.(type) {
	case backends.Array:
		return DistArray(ops, v, alloc, axis)
	case Distributable:
		return v.DevDist(ops, alloc, axis)
	}
	return x, nil
}

// DistIter distributes each element of xs.
func DistIter(ops Ops, xs []any, alloc Allocation, axis int) (*Iter, error) {
	if err := checkDevices(alloc.Devices); err != nil {
		return nil, err
	}
	elems := make([]any, len(xs))
	for ii, x := range xs {
		var err error
		elems[ii], err = Dist(ops, x, alloc, axis)
		if err != nil {
			return nil, errors.WithMessagef(err, "distributing element #%d", ii)
		}
	}
	return &Iter{kind: Distributed, devices: alloc.Devices, elems: elems}, nil
}

// DistNest distributes every array or Distributable leaf of the arguments, traversing []any and
// map[string]any up to maxDepth levels.
func DistNest(ops Ops, args []any, kwargs map[string]any, alloc Allocation, axis, maxDepth int) (*Nest, error) {
	if err := checkDevices(alloc.Devices); err != nil {
		return nil, err
	}
	out, err := mapArgs(args, kwargs, maxDepth, func(leaf any) (any, error) {
		return Dist(ops, leaf, alloc, axis)
	})
	if err != nil {
		return nil, err
	}
	return &Nest{kind: Distributed, devices: alloc.Devices, args: out.Args, kwargs: out.Kwargs, maxDepth: maxDepth}, nil
}

// CloneArray copies x, detached from gradients, to each of the devices.
func CloneArray(ops Ops, x backends.Array, devices []string) (*Item, error) {
	if err := checkDevices(devices); err != nil {
		return nil, err
	}
	detached, err := ops.StopGradient(x)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(devices))
	for ii, dev := range devices {
		values[ii], err = ops.ToDev(detached, dev)
		if err != nil {
			return nil, errors.WithMessagef(err, "cloning array to %q", dev)
		}
	}
	return NewItem(Cloned, devices, values, 0)
}

// Clone copies x to each of the devices: arrays with CloneArray, Distributable values with their DevClone
// method. Any other value is returned unchanged.
func Clone(ops Ops, x any, devices []string) (any, error) {
	switch v := x.(type) {
	case backends.Array:
		return CloneArray(ops, v, devices)
	case Distributable:
		return v.DevClone(ops, devices)
	}
	return x, nil
}

// CloneIter clones each element of xs.
func CloneIter(ops Ops, xs []any, devices []string) (*Iter, error) {
	if err := checkDevices(devices); err != nil {
		return nil, err
	}
	elems := make([]any, len(xs))
	for ii, x := range xs {
		var err error
		elems[ii], err = Clone(ops, x, devices)
		if err != nil {
			return nil, errors.WithMessagef(err, "cloning element #%d", ii)
		}
	}
	return &Iter{kind: Cloned, devices: devices, elems: elems}, nil
}

// CloneNest clones every array or Distributable leaf of the arguments, traversing []any and
// map[string]any up to maxDepth levels.
func CloneNest(ops Ops, args []any, kwargs map[string]any, devices []string, maxDepth int) (*Nest, error) {
	if err := checkDevices(devices); err != nil {
		return nil, err
	}
	out, err := mapArgs(args, kwargs, maxDepth, func(leaf any) (any, error) {
		return Clone(ops, leaf, devices)
	})
	if err != nil {
		return nil, err
	}
	return &Nest{kind: Cloned, devices: devices, args: out.Args, kwargs: out.Kwargs, maxDepth: maxDepth}, nil
}
