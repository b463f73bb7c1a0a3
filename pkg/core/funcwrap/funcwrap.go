// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package funcwrap intercepts every operation of a namespace with a chain of middlewares that implement
// behavior common to all backends: default device placement, the `out` argument and Spec propagation.
//
// Installation is idempotent and reversible: the Wrapper records the original function of every name it
// wraps, and only wraps names it has not wrapped yet.
package funcwrap

import (
	"github.com/gomlx/multiframe/backends"
	"k8s.io/klog/v2"
)

// Middleware wraps the operation called name, returning the function to use in its place.
// It should call next to execute the wrapped operation.
type Middleware func(name string, next backends.Fn) backends.Fn

// Wrapper installs a chain of middlewares in a namespace.
type Wrapper struct {
	middlewares []Middleware
	originals   map[string]backends.Fn
}

// New creates a Wrapper with the given middlewares. The first middleware is the outermost.
func New(middlewares ...Middleware) *Wrapper {
	return &Wrapper{
		middlewares: middlewares,
		originals:   make(map[string]backends.Fn),
	}
}

// Wrap composes the middlewares around fn.
func (w *Wrapper) Wrap(name string, fn backends.Fn) backends.Fn {
	for ii := len(w.middlewares) - 1; ii >= 0; ii-- {
		fn = w.middlewares[ii](name, fn)
	}
	return fn
}

// Install wraps every operation of ns that is not wrapped already. Constants are left untouched.
func (w *Wrapper) Install(ns backends.Namespace) {
	count := 0
	for name, b := range ns {
		if !b.IsOp() {
			continue
		}
		if _, wrapped := w.originals[name]; wrapped {
			continue
		}
		w.originals[name] = b.Fn
		b.Fn = w.Wrap(name, b.Fn)
		count++
	}
	klog.V(2).Infof("funcwrap: wrapped %d operations (%d total)", count, len(w.originals))
}

// Uninstall restores the original functions in ns, and forgets them. It is safe to call it more than once.
func (w *Wrapper) Uninstall(ns backends.Namespace) {
	for name, fn := range w.originals {
		if b, found := ns[name]; found {
			b.Fn = fn
		}
	}
	clear(w.originals)
}

// OriginalCount returns the number of operations currently wrapped.
func (w *Wrapper) OriginalCount() int { return len(w.originals) }

// IsWrapped returns whether the operation called name is currently wrapped.
func (w *Wrapper) IsWrapped(name string) bool {
	_, found := w.originals[name]
	return found
}
