// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// genericNamespace builds the backend agnostic namespace:
//
//   - The dtype identifiers, as constants.
//   - Dispatchers for the operations every backend implements: they run the operation of the framework
//     inferred from the arguments.
//   - Generic implementations of optional operations, composed from other operations. They backfill
//     backends that don't implement them.
func (r *Registry) genericNamespace() backends.Namespace {
	ns := make(backends.Namespace)
	for _, dt := range dtypes.All() {
		ns[dt] = &backends.Binding{Name: dt, Value: dt}
	}
	generic := map[string]backends.Fn{
		backends.OpReduceMean:          r.genericReduceMean,
		backends.OpStopGradient:        identityOp(backends.OpStopGradient),
		backends.OpVariable:            identityOp(backends.OpVariable),
		backends.OpClearMemOnDev:       genericClearMemOnDev,
		backends.OpInplaceUpdate:       r.genericInplaceUpdate,
		backends.OpCurrentFrameworkStr: func(*backends.Call) (any, error) { return r.CurrentFrameworkStr(), nil },
	}
	for _, name := range backends.OpNames {
		if fn, found := generic[name]; found {
			ns[name] = &backends.Binding{Name: name, Fn: fn}
			continue
		}
		ns[name] = &backends.Binding{Name: name, Fn: r.dispatcher(name), Dispatch: true}
	}
	return ns
}

// dispatcher returns a function that runs the operation name of the framework inferred from the arguments.
func (r *Registry) dispatcher(name string) backends.Fn {
	return func(call *backends.Call) (any, error) {
		b, err := r.CurrentFramework(call)
		if err != nil {
			return nil, errors.WithMessagef(err, "calling %q", name)
		}
		fn, found := b.Ops()[name]
		if !found {
			return nil, errdefs.Unsupportedf("framework %q doesn't implement %q", b.Name(), name)
		}
		klog.V(3).Infof("dispatched %q to framework %q", name, b.Name())
		return fn(call)
	}
}

// genericReduceMean composes reduce_mean from reduce_sum and divide.
func (r *Registry) genericReduceMean(call *backends.Call) (any, error) {
	x, err := call.ArrayArg(0)
	if err != nil {
		return nil, err
	}
	sumCall := call.Clone()
	sumCall.Out = nil
	sumAny, err := r.Call(backends.OpReduceSum, sumCall)
	if err != nil {
		return nil, err
	}
	sum, ok := sumAny.(backends.Array)
	if !ok {
		return nil, errors.Errorf("reduce_sum returned a %T, not an array", sumAny)
	}
	count := x.Shape().Size() / max(sum.Shape().Size(), 1)
	if count == 0 {
		return nil, errdefs.Configurationf("reduce_mean over an empty set of elements (shape %s)", x.Shape())
	}
	return r.Call(backends.OpDivide, backends.NewCall(sum, float64(count)))
}

// identityOp is used by frameworks without automatic differentiation: arrays are never tracked, so
// stop_gradient and variable return their input.
func identityOp(name string) backends.Fn {
	return func(call *backends.Call) (any, error) {
		x, err := call.Arg(0)
		if err != nil {
			return nil, errors.WithMessagef(err, "in %q", name)
		}
		return x, nil
	}
}

// genericClearMemOnDev is a no-op: memory is released by the garbage collector.
func genericClearMemOnDev(*backends.Call) (any, error) {
	return nil, nil
}

func (r *Registry) genericInplaceUpdate(call *backends.Call) (any, error) {
	framework := r.CurrentFrameworkStr()
	if framework == "" {
		if x := call.FirstArray(); x != nil {
			framework = x.Framework()
		}
	}
	return nil, errdefs.Unsupportedf("framework %q arrays are immutable, inplace_update is not supported", framework)
}
