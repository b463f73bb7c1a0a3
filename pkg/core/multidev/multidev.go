// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package multidev distributes values across devices, clones them to devices, and unifies per-device
// values back into one value on a target device.
//
// Values are arrays (backends.Array), containers implementing Distributable/Unifiable, or nests of them
// ([]any and map[string]any). Any other leaf passes through unchanged to every device.
//
// All array manipulation goes through Ops, implemented by *framework.Registry.
package multidev

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/core/shapes"
	"github.com/gomlx/multiframe/pkg/support/sets"
)

// DefaultMaxDepth is the default depth limit when traversing nests.
const DefaultMaxDepth = 16

// Ops are the array operations used to move values across devices.
//
// *framework.Registry implements it.
type Ops interface {
	ToDev(x backends.Array, dev string) (backends.Array, error)
	Split(x backends.Array, axis int, numOrSizes any, withRemainder bool) ([]backends.Array, error)
	Concat(xs []backends.Array, axis int) (backends.Array, error)
	Add(x, y any) (backends.Array, error)
	DivideScalar(x backends.Array, c float64) (backends.Array, error)
	StopGradient(x backends.Array) (backends.Array, error)
	DefaultDevice(dev string) (string, error)
	SplitFactor(dev string) float64
}

// Kind of a multi-device value.
type Kind int

const (
	// Distributed values hold a disjoint chunk of the original value on each device.
	Distributed Kind = iota

	// Cloned values hold a full copy of the original value on each device.
	Cloned
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Distributed:
		return "Distributed"
	case Cloned:
		return "Cloned"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Item holds one value per device, in a fixed device order.
type Item struct {
	kind    Kind
	devices []string
	values  map[string]any
	axis    int
}

// NewItem creates an Item with values[i] on devices[i]. axis is the axis along which Distributed values
// were split.
func NewItem(kind Kind, devices []string, values []any, axis int) (*Item, error) {
	if len(devices) != len(values) {
		return nil, errdefs.Configurationf("%d devices given for %d values", len(devices), len(values))
	}
	if err := checkDevices(devices); err != nil {
		return nil, err
	}
	it := &Item{kind: kind, devices: slices.Clone(devices), values: make(map[string]any, len(devices)), axis: axis}
	for ii, dev := range devices {
		it.values[dev] = values[ii]
	}
	return it, nil
}

func checkDevices(devices []string) error {
	if len(devices) == 0 {
		return errdefs.Configurationf("no devices given")
	}
	if dev, found := sets.FirstRepeated(devices); found {
		return errdefs.Configurationf("device %q listed more than once in %v", dev, devices)
	}
	return nil
}

// Kind returns whether the item is Distributed or Cloned.
func (it *Item) Kind() Kind { return it.kind }

// Axis along which the item was distributed.
func (it *Item) Axis() int { return it.axis }

// Len returns the number of devices.
func (it *Item) Len() int { return len(it.devices) }

// Devices returns the devices in order.
func (it *Item) Devices() []string { return slices.Clone(it.devices) }

// At returns the value of the i-th device.
func (it *Item) At(i int) any { return it.values[it.devices[i]] }

// AtDev returns the value for dev.
func (it *Item) AtDev(dev string) (any, bool) {
	v, found := it.values[dev]
	return v, found
}

// AtDevs returns a copy of the device to value mapping.
func (it *Item) AtDevs() map[string]any { return maps.Clone(it.values) }

// Values returns the values in device order. It implements backends.Composite.
func (it *Item) Values() []any {
	values := make([]any, len(it.devices))
	for ii := range it.devices {
		values[ii] = it.At(ii)
	}
	return values
}

// Shape returns the shape of the value the item represents: for Distributed items the per-device shapes
// concatenated along the axis, for Cloned items the shape of any copy.
//
// It returns an ErrConfiguration if the values are not arrays.
func (it *Item) Shape() (shapes.Shape, error) {
	var shape shapes.Shape
	for ii := range it.devices {
		x, ok := it.At(ii).(backends.Array)
		if !ok {
			return shapes.Shape{}, errdefs.Configurationf("value on device %q is a %T, not an array", it.devices[ii], it.At(ii))
		}
		s := x.Shape()
		if ii == 0 {
			shape = s.Clone()
			continue
		}
		if it.kind == Cloned {
			continue
		}
		axis, err := shape.AdjustAxis(it.axis)
		if err != nil {
			return shapes.Shape{}, err
		}
		if s.Rank() != shape.Rank() {
			return shapes.Shape{}, errdefs.Configurationf("value on device %q has shape %s, incompatible with %s",
				it.devices[ii], s, shape)
		}
		shape.Dimensions[axis] += s.Dimensions[axis]
	}
	return shape, nil
}

// String implements fmt.Stringer.
func (it *Item) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s{", it.kind)
	for ii, dev := range it.devices {
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %v", dev, it.values[dev])
	}
	sb.WriteString("}")
	return sb.String()
}

// Iter is a list whose elements are either Items or plain values shared by all devices.
type Iter struct {
	kind    Kind
	devices []string
	elems   []any
}

// Kind returns whether the elements were distributed or cloned.
func (it *Iter) Kind() Kind { return it.kind }

// Devices returns the devices in order.
func (it *Iter) Devices() []string { return slices.Clone(it.devices) }

// Len returns the number of elements.
func (it *Iter) Len() int { return len(it.elems) }

// At returns the i-th element, an *Item or a pass-through value.
func (it *Iter) At(i int) any { return it.elems[i] }

// AtDev returns the list as seen by dev.
func (it *Iter) AtDev(dev string) []any {
	values := make([]any, len(it.elems))
	for ii, e := range it.elems {
		values[ii] = selectDev(e, dev, 0, 1)
	}
	return values
}

// AtDevs returns the list as seen by each device.
func (it *Iter) AtDevs() map[string][]any {
	all := make(map[string][]any, len(it.devices))
	for _, dev := range it.devices {
		all[dev] = it.AtDev(dev)
	}
	return all
}

// Values implements backends.Composite.
func (it *Iter) Values() []any { return slices.Clone(it.elems) }

// String implements fmt.Stringer.
func (it *Iter) String() string {
	parts := make([]string, len(it.elems))
	for ii, e := range it.elems {
		parts[ii] = fmt.Sprint(e)
	}
	return fmt.Sprintf("%sIter[%s]", it.kind, strings.Join(parts, ", "))
}

// Args are positional and keyword arguments of a function call.
type Args struct {
	Args   []any
	Kwargs map[string]any
}

// Nest holds arguments (positional and keyword) where arrays and containers were replaced by Items, up to
// maxDepth levels of nesting.
type Nest struct {
	kind     Kind
	devices  []string
	args     []any
	kwargs   map[string]any
	maxDepth int
}

// Kind returns whether the leaves were distributed or cloned.
func (n *Nest) Kind() Kind { return n.kind }

// Devices returns the devices in order.
func (n *Nest) Devices() []string { return slices.Clone(n.devices) }

// MaxDepth used when traversing the nest.
func (n *Nest) MaxDepth() int { return n.maxDepth }

// At returns the raw (not per-device) positional argument i.
func (n *Nest) At(i int) any { return n.args[i] }

// AtDev returns the arguments as seen by dev.
func (n *Nest) AtDev(dev string) Args {
	args := make([]any, len(n.args))
	for ii, a := range n.args {
		args[ii] = selectDev(a, dev, 0, n.maxDepth)
	}
	var kwargs map[string]any
	if n.kwargs != nil {
		kwargs = make(map[string]any, len(n.kwargs))
		for k, v := range n.kwargs {
			kwargs[k] = selectDev(v, dev, 0, n.maxDepth)
		}
	}
	return Args{Args: args, Kwargs: kwargs}
}

// AtDevs returns the arguments as seen by each device.
func (n *Nest) AtDevs() map[string]Args {
	all := make(map[string]Args, len(n.devices))
	for _, dev := range n.devices {
		all[dev] = n.AtDev(dev)
	}
	return all
}

// Values implements backends.Composite: positional arguments followed by keyword arguments sorted by key.
func (n *Nest) Values() []any {
	values := slices.Clone(n.args)
	for _, k := range slices.Sorted(maps.Keys(n.kwargs)) {
		values = append(values, n.kwargs[k])
	}
	return values
}

// String implements fmt.Stringer.
func (n *Nest) String() string {
	return fmt.Sprintf("%sNest{args: %v, kwargs: %v}", n.kind, n.args, n.kwargs)
}

// Select returns v as seen by dev: Items are replaced by their value on dev, Iters and Nests by their
// per-device view, recursively through []any and map[string]any up to DefaultMaxDepth.
//
// Items that don't hold dev yield nil.
func Select(v any, dev string) any {
	return selectDev(v, dev, 0, DefaultMaxDepth)
}

func selectDev(v any, dev string, depth, maxDepth int) any {
	switch x := v.(type) {
	case *Item:
		value, _ := x.AtDev(dev)
		return value
	case *Iter:
		return x.AtDev(dev)
	case *Nest:
		return x.AtDev(dev)
	}
	if depth >= maxDepth {
		return v
	}
	switch x := v.(type) {
	case []any:
		values := make([]any, len(x))
		for ii, e := range x {
			values[ii] = selectDev(e, dev, depth+1, maxDepth)
		}
		return values
	case map[string]any:
		values := make(map[string]any, len(x))
		for k, e := range x {
			values[k] = selectDev(e, dev, depth+1, maxDepth)
		}
		return values
	}
	return v
}

// mapNest applies fn to every leaf of v, recursing through []any and map[string]any up to maxDepth.
// Leaves deeper than maxDepth are left untouched.
func mapNest(v any, depth, maxDepth int, fn func(leaf any) (any, error)) (any, error) {
	if depth < maxDepth {
		switch x := v.(type) {
		case []any:
			values := make([]any, len(x))
			for ii, e := range x {
				var err error
				values[ii], err = mapNest(e, depth+1, maxDepth, fn)
				if err != nil {
					return nil, err
				}
			}
			return values, nil
		case map[string]any:
			values := make(map[string]any, len(x))
			for k, e := range x {
				var err error
				values[k], err = mapNest(e, depth+1, maxDepth, fn)
				if err != nil {
					return nil, err
				}
			}
			return values, nil
		}
	}
	return fn(v)
}

// mapArgs applies mapNest to positional and keyword arguments.
func mapArgs(args []any, kwargs map[string]any, maxDepth int, fn func(leaf any) (any, error)) (Args, error) {
	var out Args
	if args != nil {
		out.Args = make([]any, len(args))
		for ii, a := range args {
			var err error
			out.Args[ii], err = mapNest(a, 0, maxDepth, fn)
			if err != nil {
				return Args{}, err
			}
		}
	}
	if kwargs != nil {
		out.Kwargs = make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			var err error
			out.Kwargs[k], err = mapNest(v, 0, maxDepth, fn)
			if err != nil {
				return Args{}, err
			}
		}
	}
	return out, nil
}
