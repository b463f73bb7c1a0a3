// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"
	"slices"

	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// Call holds the arguments of an operation call.
type Call struct {
	// Args are the positional arguments.
	Args []any

	// Params are the named arguments.
	Params map[string]any

	// Device where newly created arrays are placed, or the target of a move. If empty, the default
	// device is used.
	Device string

	// Out is an optional output array: if the backend supports in-place updates, the result is written
	// into it and it is returned.
	Out Array

	// Dispatcher to call other operations through the active namespace. It may be nil when an operation
	// is called directly on a backend table.
	Dispatcher Dispatcher
}

// NewCall creates a Call with the given positional arguments.
func NewCall(args ...any) *Call {
	return &Call{Args: args, Params: make(map[string]any)}
}

// With sets a named parameter and returns the call itself, for chaining.
func (c *Call) With(name string, value any) *Call {
	if c.Params == nil {
		c.Params = make(map[string]any)
	}
	c.Params[name] = value
	return c
}

// OnDevice sets Call.Device and returns the call itself, for chaining.
func (c *Call) OnDevice(dev string) *Call {
	c.Device = dev
	return c
}

// Clone returns a shallow copy of the call: the Args slice and the Params map are copied, but not their values.
func (c *Call) Clone() *Call {
	c2 := *c
	c2.Args = slices.Clone(c.Args)
	c2.Params = maps.Clone(c.Params)
	return &c2
}

// Arg returns the i-th positional argument, or an ErrConfiguration if it was not given.
func (c *Call) Arg(i int) (any, error) {
	if i < 0 || i >= len(c.Args) {
		return nil, errdefs.Configurationf("missing positional argument #%d (got %d arguments)", i, len(c.Args))
	}
	return c.Args[i], nil
}

// ArrayArg returns the i-th positional argument as an Array.
func (c *Call) ArrayArg(i int) (Array, error) {
	v, err := c.Arg(i)
	if err != nil {
		return nil, err
	}
	x, ok := v.(Array)
	if !ok {
		return nil, errdefs.Configurationf("positional argument #%d must be an array, got %T", i, v)
	}
	return x, nil
}

// FirstArray returns the first positional argument that is an Array, or nil if there is none.
func (c *Call) FirstArray() Array {
	for _, arg := range c.Args {
		if x, ok := arg.(Array); ok {
			return x
		}
	}
	return nil
}

// Param returns the named parameter, if set and not nil.
func (c *Call) Param(name string) (any, bool) {
	v, found := c.Params[name]
	if !found || v == nil {
		return nil, false
	}
	return v, true
}

// ParamAs returns the named parameter converted to T, or defaultValue if it is not set.
// A parameter of the wrong type is an ErrConfiguration.
func ParamAs[T any](c *Call, name string, defaultValue T) (T, error) {
	v, found := c.Param(name)
	if !found {
		return defaultValue, nil
	}
	typed, ok := v.(T)
	if !ok {
		return defaultValue, errdefs.Configurationf("parameter %q must be of type %T, got %T", name, defaultValue, v)
	}
	return typed, nil
}
