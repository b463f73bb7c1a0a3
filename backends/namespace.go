// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"slices"
)

// Binding is one entry of the public namespace: either an operation (Fn != nil) or a constant (Value).
type Binding struct {
	Name string

	// Fn is the operation bound to the name, if it is an operation.
	Fn Fn

	// Value of the binding, if it is a constant (e.g.: the dtype identifiers).
	Value any

	// Dispatch is set for generic operations that dispatch on the backend of their arguments.
	// They can't be used to backfill a backend that lacks the operation, as they would dispatch back to it.
	Dispatch bool

	// Source is the name of the backend that supplied Fn, or "" for the generic implementations.
	Source string
}

// IsOp returns whether the binding is an operation.
func (b *Binding) IsOp() bool { return b.Fn != nil }

// Clone returns a copy of the binding.
func (b *Binding) Clone() *Binding {
	b2 := *b
	return &b2
}

// Namespace maps names to their bindings.
type Namespace map[string]*Binding

// Clone returns a deep copy of the namespace: bindings are copied, so changing one namespace
// doesn't affect the other.
func (ns Namespace) Clone() Namespace {
	ns2 := make(Namespace, len(ns))
	for name, b := range ns {
		ns2[name] = b.Clone()
	}
	return ns2
}

// Names returns the names in the namespace, sorted.
func (ns Namespace) Names() []string {
	names := make([]string, 0, len(ns))
	for name := range ns {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
