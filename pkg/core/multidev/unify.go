// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multidev

import (
	"fmt"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/pkg/errors"
)

// Mode in which per-device values are unified.
type Mode int

const (
	// Concat concatenates the per-device values along the axis.
	Concat Mode = iota

	// Sum adds the per-device values elementwise.
	Sum

	// Mean averages the per-device values elementwise.
	Mean
)

var modeNames = map[Mode]string{Concat: "concat", Sum: "sum", Mean: "mean"}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if name, found := modeNames[m]; found {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts "concat", "sum" or "mean" to a Mode. Anything else is an ErrConfiguration.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, errdefs.Configurationf("invalid unify mode %q, valid values are concat, sum or mean", s)
}

// UnifyArray moves each per-device array of item to dev (the default device if empty) and combines
// them according to mode.
func UnifyArray(ops Ops, item *Item, dev string, mode Mode, axis int) (backends.Array, error) {
	if item == nil || item.Len() == 0 {
		return nil, errdefs.Configurationf("nothing to unify")
	}
	dev, err := ops.DefaultDevice(dev)
	if err != nil {
		return nil, err
	}
	moved := make([]backends.Array, item.Len())
	for ii, itemDev := range item.devices {
		x, ok := item.values[itemDev].(backends.Array)
		if !ok {
			return nil, errdefs.Configurationf("value on device %q is a %T, not an array", itemDev, item.values[itemDev])
		}
		moved[ii], err = ops.ToDev(x, dev)
		if err != nil {
			return nil, errors.WithMessagef(err, "moving value from %q to %q", itemDev, dev)
		}
	}
	switch mode {
	case Concat:
		return ops.Concat(moved, axis)
	case Sum, Mean:
		total := moved[0]
		for _, x := range moved[1:] {
			total, err = ops.Add(total, x)
			if err != nil {
				return nil, err
			}
		}
		if mode == Mean {
			return ops.DivideScalar(total, float64(len(moved)))
		}
		return total, nil
	}
	return nil, errdefs.Configurationf("invalid unify mode %s", mode)
}

// Unify combines the per-device values of item on dev: arrays with UnifyArray, Unifiable values with their
// DevUnify method. Other values are assumed equal on all devices, and the first one is returned.
func Unify(ops Ops, item *Item, dev string, mode Mode, axis int) (any, error) {
	if item == nil || item.Len() == 0 {
		return nil, errdefs.Configurationf("nothing to unify")
	}
	switch first := item.At(0).(type) {
	case backends.Array:
		return UnifyArray(ops, item, dev, mode, axis)
	case Unifiable:
		return first.DevUnify(ops, item, dev, mode, axis)
	default:
		return first, nil
	}
}

// UnifyIter unifies a list of per-device values.
//
// If transpose is false, xs is an *Iter or a []any, whose *Item elements are unified and other elements
// returned unchanged.
//
// If transpose is true, xs is an *Item where each device holds a []any of the same length (e.g.: the
// multiple outputs of a function run on each device), and the i-th outputs of all devices are unified
// into the i-th element of the result.
func UnifyIter(ops Ops, xs any, dev string, mode Mode, axis int, transpose bool) ([]any, error) {
	var elems []any
	if transpose {
		item, ok := xs.(*Item)
		if !ok {
			return nil, errdefs.Configurationf("transposed unify requires an *Item, got %T", xs)
		}
		iter, err := Transpose(item)
		if err != nil {
			return nil, err
		}
		elems = iter.elems
	} else {
		switch v := xs.(type) {
		case *Iter:
			elems = v.elems
		case []any:
			elems = v
		default:
			return nil, errdefs.Configurationf("unify iter requires an *Iter or []any, got %T", xs)
		}
	}
	results := make([]any, len(elems))
	for ii, e := range elems {
		item, ok := e.(*Item)
		if !ok {
			results[ii] = e
			continue
		}
		var err error
		results[ii], err = Unify(ops, item, dev, mode, axis)
		if err != nil {
			return nil, errors.WithMessagef(err, "unifying element #%d", ii)
		}
	}
	return results, nil
}

// Transpose converts an Item whose per-device values are []any of equal length into an Iter of Items.
func Transpose(item *Item) (*Iter, error) {
	n := -1
	for _, dev := range item.devices {
		list, ok := item.values[dev].([]any)
		if !ok {
			return nil, errdefs.Configurationf("value on device %q is a %T, not a []any", dev, item.values[dev])
		}
		if n >= 0 && len(list) != n {
			return nil, errdefs.Configurationf("device %q has %d values, previous devices had %d", dev, len(list), n)
		}
		n = len(list)
	}
	elems := make([]any, n)
	for ii := range n {
		values := make([]any, item.Len())
		for jj, dev := range item.devices {
			values[jj] = item.values[dev].([]any)[ii]
		}
		var err error
		elems[ii], err = NewItem(item.kind, item.devices, values, item.axis)
		if err != nil {
			return nil, err
		}
	}
	return &Iter{kind: item.kind, devices: item.Devices(), elems: elems}, nil
}

// UnifyNest unifies every *Item leaf of the arguments, traversing []any and map[string]any up to
// maxDepth levels. Other leaves are returned unchanged.
func UnifyNest(ops Ops, args []any, kwargs map[string]any, dev string, mode Mode, axis, maxDepth int) (Args, error) {
	return mapArgs(args, kwargs, maxDepth, func(leaf any) (any, error) {
		item, ok := leaf.(*Item)
		if !ok {
			return leaf, nil
		}
		return Unify(ops, item, dev, mode, axis)
	})
}
