// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multidev

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/pkg/errors"
)

// Distributable values know how to distribute and clone themselves across devices. They are treated as
// leaves when traversing nests.
type Distributable interface {
	// DevDist returns an Item with one Distributed copy of the value per device of alloc.
	DevDist(ops Ops, alloc Allocation, axis int) (*Item, error)

	// DevClone returns an Item with one Cloned copy of the value per device.
	DevClone(ops Ops, devices []string) (*Item, error)
}

// Unifiable values know how to unify the per-device copies of themselves held by an Item.
type Unifiable interface {
	DevUnify(ops Ops, item *Item, dev string, mode Mode, axis int) (any, error)
}

// Container is an ordered string-keyed collection of values (e.g.: model parameters). It distributes,
// clones and unifies key by key, recursively for nested containers.
type Container struct {
	keys   []string
	values map[string]any
}

var (
	_ Distributable = (*Container)(nil)
	_ Unifiable     = (*Container)(nil)
)

// NewContainer returns an empty Container.
func NewContainer() *Container {
	return &Container{values: make(map[string]any)}
}

// Set key to v. New keys are appended to the key order. It returns the container itself.
func (c *Container) Set(key string, v any) *Container {
	if _, found := c.values[key]; !found {
		c.keys = append(c.keys, key)
	}
	c.values[key] = v
	return c
}

// Get returns the value of key.
func (c *Container) Get(key string) (any, bool) {
	v, found := c.values[key]
	return v, found
}

// Keys in insertion order.
func (c *Container) Keys() []string { return slices.Clone(c.keys) }

// Len returns the number of keys.
func (c *Container) Len() int { return len(c.keys) }

// Values in key order. It implements backends.Composite.
func (c *Container) Values() []any {
	values := make([]any, len(c.keys))
	for ii, k := range c.keys {
		values[ii] = c.values[k]
	}
	return values
}

// Map returns a new container with fn applied to every value.
func (c *Container) Map(fn func(key string, v any) (any, error)) (*Container, error) {
	out := NewContainer()
	for _, k := range c.keys {
		v, err := fn(k, c.values[k])
		if err != nil {
			return nil, errors.WithMessagef(err, "container key %q", k)
		}
		out.Set(k, v)
	}
	return out, nil
}

// String implements fmt.Stringer.
func (c *Container) String() string {
	parts := make([]string, len(c.keys))
	for ii, k := range c.keys {
		parts[ii] = fmt.Sprintf("%s: %v", k, c.values[k])
	}
	return "Container{" + strings.Join(parts, ", ") + "}"
}

// perDevice splits a container whose values were mapped to Items (or pass-through values) into one
// container per device.
func (c *Container) perDevice(kind Kind, devices []string, axis int) (*Item, error) {
	values := make([]any, len(devices))
	for ii, dev := range devices {
		devContainer := NewContainer()
		for _, k := range c.keys {
			v := c.values[k]
			if item, ok := v.(*Item); ok {
				v, _ = item.AtDev(dev)
			}
			devContainer.Set(k, v)
		}
		values[ii] = devContainer
	}
	return NewItem(kind, devices, values, axis)
}

// DevDist implements Distributable.
func (c *Container) DevDist(ops Ops, alloc Allocation, axis int) (*Item, error) {
	mapped, err := c.Map(func(_ string, v any) (any, error) { return Dist(ops, v, alloc, axis) })
	if err != nil {
		return nil, err
	}
	return mapped.perDevice(Distributed, alloc.Devices, axis)
}

// DevClone implements Distributable.
func (c *Container) DevClone(ops Ops, devices []string) (*Item, error) {
	mapped, err := c.Map(func(_ string, v any) (any, error) { return Clone(ops, v, devices) })
	if err != nil {
		return nil, err
	}
	return mapped.perDevice(Cloned, devices, 0)
}

// DevUnify implements Unifiable. item must hold a *Container with the same keys on every device.
func (c *Container) DevUnify(ops Ops, item *Item, dev string, mode Mode, axis int) (any, error) {
	containers := make([]*Container, item.Len())
	for ii := range item.Len() {
		devContainer, ok := item.At(ii).(*Container)
		if !ok {
			return nil, errdefs.Configurationf("value on device %q is a %T, not a *Container", item.devices[ii], item.At(ii))
		}
		if !slices.Equal(devContainer.keys, c.keys) {
			return nil, errdefs.Configurationf("container on device %q has keys %v, expected %v",
				item.devices[ii], devContainer.keys, c.keys)
		}
		containers[ii] = devContainer
	}
	unified, err := c.Map(func(key string, _ any) (any, error) {
		values := make([]any, len(containers))
		for ii, devContainer := range containers {
			values[ii] = devContainer.values[key]
		}
		keyItem, err := NewItem(item.kind, item.devices, values, item.axis)
		if err != nil {
			return nil, err
		}
		return Unify(ops, keyItem, dev, mode, axis)
	})
	if err != nil {
		return nil, err
	}
	return unified, nil
}
