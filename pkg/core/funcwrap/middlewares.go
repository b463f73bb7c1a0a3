// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package funcwrap

import (
	"github.com/gomlx/multiframe/backends"
)

// DefaultDevice fills Call.Device of the operations that create arrays, when it is empty, with the
// device returned by resolve. resolve also validates an explicitly given device.
func DefaultDevice(resolve func(dev string) (string, error)) Middleware {
	return func(name string, next backends.Fn) backends.Fn {
		if !backends.CreatesArray(name) {
			return next
		}
		return func(call *backends.Call) (any, error) {
			dev, err := resolve(call.Device)
			if err != nil {
				return nil, err
			}
			if dev != call.Device {
				call = call.Clone()
				call.Device = dev
			}
			return next(call)
		}
	}
}

// OutArgument honors Call.Out: if inplace returns true, the result of the operation is written into
// Call.Out with the inplace_update operation, and Call.Out is returned. Otherwise, the result is
// returned as usual.
func OutArgument(inplace func() bool) Middleware {
	return func(name string, next backends.Fn) backends.Fn {
		if name == backends.OpInplaceUpdate {
			return next
		}
		return func(call *backends.Call) (any, error) {
			result, err := next(call)
			if err != nil || call.Out == nil || call.Dispatcher == nil || !inplace() {
				return result, err
			}
			array, ok := result.(backends.Array)
			if !ok {
				return result, nil
			}
			return call.Dispatcher.Call(backends.OpInplaceUpdate, backends.NewCall(call.Out, array))
		}
	}
}

// PropagateSpec copies the Spec of the first array argument carrying one to the resulting array, if it
// has the same dimensions and doesn't have a Spec of its own.
func PropagateSpec() Middleware {
	return func(name string, next backends.Fn) backends.Fn {
		return func(call *backends.Call) (any, error) {
			result, err := next(call)
			if err != nil {
				return result, err
			}
			out, ok := result.(backends.SpecCarrier)
			if !ok || out.ArraySpec() != nil {
				return result, nil
			}
			outArray, ok := result.(backends.Array)
			if !ok {
				return result, nil
			}
			for _, arg := range call.Args {
				src, ok := arg.(backends.SpecCarrier)
				if !ok || src.ArraySpec() == nil {
					continue
				}
				if srcArray, ok := arg.(backends.Array); ok && srcArray.Shape().EqualDimensions(outArray.Shape()) {
					out.SetArraySpec(src.ArraySpec().Clone())
				}
				break
			}
			return result, nil
		}
	}
}
