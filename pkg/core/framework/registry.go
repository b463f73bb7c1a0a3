// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package framework holds the Registry: the stack of active framework backends and the public namespace
// of operations bound to the backend on top of the stack.
//
// Every operation is called by name through the Registry (Call, Invoke or the typed helpers like ReduceSum),
// and executes on the active backend. When no backend is active, generic dispatchers infer the backend from
// the framework tag of the array arguments.
//
// A Registry is not safe for concurrent use: it is meant to be owned by one goroutine. Use one Registry per
// goroutine (see package devmapper) for parallel work.
package framework

import (
	"math/rand/v2"
	"slices"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/core/funcwrap"
	"k8s.io/klog/v2"
)

// Registry of active frameworks and the public namespace bound to them.
type Registry struct {
	stack []backends.Backend

	// loaded backends, by selection string, in order of loading.
	loaded      map[string]backends.Backend
	loadedOrder []string

	// generic is the backend agnostic namespace the Registry is created with.
	generic backends.Namespace

	// snapshot of the namespace taken when the stack goes from empty to non-empty.
	snapshot backends.Namespace

	// ns is the active namespace.
	ns backends.Namespace

	wrapper      *funcwrap.Wrapper
	devices      *device.Stack
	splitFactors *device.SplitFactors
}

// New creates a Registry with an empty framework stack and the generic namespace.
func New() *Registry {
	r := &Registry{
		loaded:       make(map[string]backends.Backend),
		devices:      device.NewStack(),
		splitFactors: device.NewSplitFactors(),
	}
	r.generic = r.genericNamespace()
	r.ns = r.generic.Clone()
	r.wrapper = funcwrap.New(
		funcwrap.DefaultDevice(r.DefaultDevice),
		funcwrap.OutArgument(r.supportsInplace),
		funcwrap.PropagateSpec(),
	)
	return r
}

// top returns the backend on top of the stack, or nil.
func (r *Registry) top() backends.Backend {
	if len(r.stack) == 0 {
		return nil
	}
	return r.stack[len(r.stack)-1]
}

func (r *Registry) supportsInplace() bool {
	top := r.top()
	return top != nil && top.SupportsInplace()
}

func (r *Registry) gpuAvailable() bool {
	top := r.top()
	return top != nil && top.GPUIsAvailable()
}

// isCPUOnly returns whether pushing b also pushes "cpu" to the default device stack.
func isCPUOnly(b backends.Backend) bool {
	return b.Name() == backends.NumPy
}

// SetFramework pushes a framework to the top of the stack, and rebinds the namespace to it.
//
// f is either a backends.Backend, or a selection string "<name>[:<config>]" (e.g.: "torch:gpus=2"). Backends
// selected by string are constructed once and cached by their selection string. An unknown name is an
// ErrConfiguration, and leaves the stack unchanged.
//
// Pushing a CPU-only backend also pushes "cpu" to the default device stack, and popping it pops the device.
func (r *Registry) SetFramework(f any) error {
	var b backends.Backend
	switch v := f.(type) {
	case backends.Backend:
		if v == nil {
			return errdefs.Configurationf("nil framework")
		}
		b = v
	case string:
		// The stack is unwound while the selection is resolved, and replayed afterward.
		saved := r.unwind()
		var err error
		b, err = r.load(v)
		r.replay(saved)
		if err != nil {
			return err
		}
	default:
		return errdefs.Configurationf("framework must be a backends.Backend or a selection string, got %T", f)
	}
	r.push(b, true)
	return nil
}

// SetDefaultFramework pushes the framework selected by the MULTIFRAME_BACKEND environment variable, or
// by backends.DefaultConfig, or else the first registered backend.
func (r *Registry) SetDefaultFramework() error {
	config := backends.SelectedConfig()
	if config == "" {
		registered := backends.List()
		if len(registered) == 0 {
			return errdefs.Configurationf("no backends registered")
		}
		config = registered[0]
	}
	return r.SetFramework(config)
}

func (r *Registry) push(b backends.Backend, coupleDevice bool) {
	if len(r.stack) == 0 {
		r.snapshot = r.ns.Clone()
	} else {
		r.wrapper.Uninstall(r.ns)
	}
	r.stack = append(r.stack, b)
	if coupleDevice && isCPUOnly(b) {
		_ = r.devices.Push(device.CPU)
	}
	r.rebind(b)
	r.wrapper.Install(r.ns)
	klog.V(2).Infof("framework stack: %v", r.StackNames())
}

// UnsetFramework pops the framework on top of the stack and returns it, rebinding the namespace to the new
// top, or restoring the snapshot if the stack is now empty. It returns nil if the stack is empty.
func (r *Registry) UnsetFramework() backends.Backend {
	return r.pop(true)
}

func (r *Registry) pop(coupleDevice bool) backends.Backend {
	if len(r.stack) == 0 {
		return nil
	}
	r.wrapper.Uninstall(r.ns)
	b := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	if coupleDevice && isCPUOnly(b) {
		r.devices.Pop()
	}
	if top := r.top(); top != nil {
		r.rebind(top)
		r.wrapper.Install(r.ns)
	} else {
		r.ns = r.snapshot.Clone()
	}
	klog.V(2).Infof("framework stack: %v", r.StackNames())
	return b
}

// unwind pops the whole stack, returning it in push order. The default device stack is untouched: replay
// restores the same frameworks.
func (r *Registry) unwind() []backends.Backend {
	saved := slices.Clone(r.stack)
	for len(r.stack) > 0 {
		r.pop(false)
	}
	return saved
}

func (r *Registry) replay(saved []backends.Backend) {
	for _, b := range saved {
		r.push(b, false)
	}
}

// load returns the backend for the selection string, constructing it on first use.
func (r *Registry) load(selection string) (backends.Backend, error) {
	if b, found := r.loaded[selection]; found {
		return b, nil
	}
	name, _ := backends.SplitConfig(selection)
	if !backends.IsRegistered(name) {
		return nil, errdefs.Configurationf("unknown framework %q, registered frameworks are %v -- "+
			"maybe import _ \"github.com/gomlx/multiframe/backends/default\"?", name, backends.List())
	}
	b, err := backends.NewWithConfig(selection)
	if err != nil {
		return nil, err
	}
	r.loaded[selection] = b
	r.loadedOrder = append(r.loadedOrder, selection)
	klog.V(1).Infof("loaded framework %q: %s", selection, b.Description())
	return b, nil
}

// loadByName returns a backend for a framework tag: the first loaded backend with that name, or else a new
// one with the default configuration.
func (r *Registry) loadByName(name string) (backends.Backend, error) {
	for _, selection := range r.loadedOrder {
		if b := r.loaded[selection]; b.Name() == name {
			return b, nil
		}
	}
	return r.load(name)
}

// rebind builds the namespace for b from the snapshot: each operation is taken from b if it implements it,
// otherwise it is backfilled with the generic implementation. Generic dispatchers can't be used as a backfill,
// since they would dispatch back to b: they are replaced by a stub returning ErrUnsupportedOperation.
// Dtype constants not supported by b are removed.
func (r *Registry) rebind(b backends.Backend) {
	r.ns = bindNamespace(b, r.snapshot)
}

// bindNamespace builds the namespace of b, backfilled from base. See rebind.
func bindNamespace(b backends.Backend, base backends.Namespace) backends.Namespace {
	ops := b.Ops()
	supported := b.DTypes()
	ns := make(backends.Namespace, len(base))
	for name, original := range base {
		if !original.IsOp() {
			if dtypes.IsValid(name) && !supported.Supports(name) {
				continue
			}
			ns[name] = original.Clone()
			continue
		}
		if fn, found := ops[name]; found {
			ns[name] = &backends.Binding{Name: name, Fn: fn, Source: b.Name()}
			continue
		}
		if original.Dispatch {
			ns[name] = &backends.Binding{Name: name, Fn: unsupportedOp(b.Name(), name), Source: b.Name()}
			continue
		}
		ns[name] = original.Clone()
	}
	for name, fn := range ops {
		if _, found := ns[name]; !found {
			ns[name] = &backends.Binding{Name: name, Fn: fn, Source: b.Name()}
		}
	}
	return ns
}

// GetFramework returns the backend for the selection string name, and its namespace backfilled with the
// generic implementations, without changing the stack or the active namespace. If name is empty, the framework
// on top of the stack is used.
//
// The returned namespace is not wrapped: operations don't get default devices or the `out` argument.
func (r *Registry) GetFramework(name string) (backends.Backend, backends.Namespace, error) {
	var b backends.Backend
	if name == "" {
		if b = r.top(); b == nil {
			return nil, nil, errdefs.Configurationf("no framework given and the framework stack is empty")
		}
	} else {
		var err error
		if b, err = r.load(name); err != nil {
			return nil, nil, err
		}
	}
	base := r.snapshot
	if len(r.stack) == 0 {
		base = r.ns
	}
	return b, bindNamespace(b, base), nil
}

// ChooseRandomFramework returns the name of a random registered framework, other than the excluded ones.
// It is an ErrConfiguration if every framework is excluded or not registered.
func (r *Registry) ChooseRandomFramework(excluded ...string) (string, error) {
	var candidates []string
	for _, name := range backends.FrameworkNames {
		if backends.IsRegistered(name) && !slices.Contains(excluded, name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", errdefs.Configurationf("unable to select a framework: all of %v are either excluded (%v) "+
			"or not registered", backends.FrameworkNames, excluded)
	}
	f := candidates[rand.IntN(len(candidates))]
	klog.V(1).Infof("selected framework %q", f)
	return f, nil
}

func unsupportedOp(framework, name string) backends.Fn {
	return func(*backends.Call) (any, error) {
		return nil, errdefs.Unsupportedf("framework %q doesn't implement %q", framework, name)
	}
}

// ClearFrameworkStack pops all frameworks. It is a no-op on an empty stack.
func (r *Registry) ClearFrameworkStack() {
	for r.UnsetFramework() != nil {
	}
}

// Use activates the framework f for the duration of fn: the framework is popped when fn returns, even if it
// returns an error or panics.
func (r *Registry) Use(f any, fn func() error) error {
	if err := r.SetFramework(f); err != nil {
		return err
	}
	defer r.UnsetFramework()
	return fn()
}

// Stack returns a copy of the framework stack, bottom first.
func (r *Registry) Stack() []backends.Backend { return slices.Clone(r.stack) }

// StackNames returns the names of the frameworks in the stack, bottom first.
func (r *Registry) StackNames() []string {
	names := make([]string, len(r.stack))
	for ii, b := range r.stack {
		names[ii] = b.Name()
	}
	return names
}

// Len returns the number of frameworks in the stack.
func (r *Registry) Len() int { return len(r.stack) }

// CurrentFrameworkStr returns the name of the framework on top of the stack, or "" if it is empty.
func (r *Registry) CurrentFrameworkStr() string {
	if top := r.top(); top != nil {
		return top.Name()
	}
	return ""
}
