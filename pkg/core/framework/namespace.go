// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

var _ backends.Dispatcher = (*Registry)(nil)

// Lookup returns a copy of the binding of name in the active namespace.
func (r *Registry) Lookup(name string) (*backends.Binding, bool) {
	b, found := r.ns[name]
	if !found {
		return nil, false
	}
	return b.Clone(), true
}

// Constant returns the value of a constant of the active namespace, e.g.: a dtype identifier.
// Dtypes not supported by the active framework are not in the namespace.
func (r *Registry) Constant(name string) (any, error) {
	b, found := r.ns[name]
	if !found {
		return nil, errdefs.Configurationf("%q not in the namespace of framework %q", name, r.CurrentFrameworkStr())
	}
	if b.IsOp() {
		return nil, errdefs.Configurationf("%q is an operation, not a constant", name)
	}
	return b.Value, nil
}

// Call the operation name of the active namespace. If call.Dispatcher is not set, it is set to the Registry.
func (r *Registry) Call(name string, call *backends.Call) (any, error) {
	b, found := r.ns[name]
	if !found {
		return nil, errdefs.Unsupportedf("operation %q not in the namespace of framework %q", name, r.CurrentFrameworkStr())
	}
	if !b.IsOp() {
		return nil, errdefs.Configurationf("%q is a constant, not an operation", name)
	}
	if call == nil {
		call = backends.NewCall()
	}
	if call.Dispatcher == nil {
		call.Dispatcher = r
	}
	return b.Fn(call)
}

// Invoke calls the operation name with the given positional arguments.
func (r *Registry) Invoke(name string, args ...any) (any, error) {
	return r.Call(name, backends.NewCall(args...))
}

// Names returns the names in the active namespace, sorted.
func (r *Registry) Names() []string { return r.ns.Names() }

// Namespace returns a copy of the active namespace.
func (r *Registry) Namespace() backends.Namespace { return r.ns.Clone() }

// OriginalFnCount returns the number of operations wrapped by the function wrapper. It is 0 when the
// framework stack is empty.
func (r *Registry) OriginalFnCount() int { return r.wrapper.OriginalCount() }
