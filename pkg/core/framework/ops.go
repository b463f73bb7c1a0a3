// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"github.com/gomlx/multiframe/backends"
	"github.com/pkg/errors"
)

// Typed wrappers around Call for the operations of the namespace.

func asArray(name string, v any, err error) (backends.Array, error) {
	if err != nil {
		return nil, err
	}
	x, ok := v.(backends.Array)
	if !ok {
		return nil, errors.Errorf("%q returned a %T, not an array", name, v)
	}
	return x, nil
}

func asType[T any](name string, v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, errors.Errorf("%q returned a %T, expected %T", name, v, zero)
	}
	return typed, nil
}

func (r *Registry) callArray(name string, call *backends.Call) (backends.Array, error) {
	v, err := r.Call(name, call)
	return asArray(name, v, err)
}

// Array creates an array from data (see backends.OpArray) with the given dtype and device.
// Empty dtype or dev select the defaults.
func (r *Registry) Array(data any, dtype, dev string) (backends.Array, error) {
	call := backends.NewCall(data).OnDevice(dev)
	if dtype != "" {
		call.With("dtype", dtype)
	}
	return r.callArray(backends.OpArray, call)
}

// ArrayWithShape creates an array from flat data, reshaped to dims.
func (r *Registry) ArrayWithShape(data any, dims []int, dtype, dev string) (backends.Array, error) {
	call := backends.NewCall(data).OnDevice(dev).With("shape", dims)
	if dtype != "" {
		call.With("dtype", dtype)
	}
	return r.callArray(backends.OpArray, call)
}

// Zeros creates an array filled with zeros.
func (r *Registry) Zeros(dims []int, dtype, dev string) (backends.Array, error) {
	call := backends.NewCall().OnDevice(dev).With("shape", dims)
	if dtype != "" {
		call.With("dtype", dtype)
	}
	return r.callArray(backends.OpZeros, call)
}

// ToDev moves x to dev.
func (r *Registry) ToDev(x backends.Array, dev string) (backends.Array, error) {
	return r.callArray(backends.OpToDev, backends.NewCall(x).OnDevice(dev))
}

// Dev returns the native device handle of x.
func (r *Registry) Dev(x backends.Array) (any, error) {
	return r.Invoke(backends.OpDev, x)
}

// DevToStr converts a native device handle to the canonical device string.
func (r *Registry) DevToStr(native any) (string, error) {
	v, err := r.Invoke(backends.OpDevToStr, native)
	return asType[string](backends.OpDevToStr, v, err)
}

// DevFromStr converts a canonical device string to the native device handle.
func (r *Registry) DevFromStr(dev string) (any, error) {
	return r.Invoke(backends.OpDevFromStr, dev)
}

// ClearMemOnDev releases cached memory on dev.
func (r *Registry) ClearMemOnDev(dev string) error {
	_, err := r.Invoke(backends.OpClearMemOnDev, dev)
	return err
}

// GPUIsAvailable returns whether the active framework has a GPU.
func (r *Registry) GPUIsAvailable() (bool, error) {
	v, err := r.Invoke(backends.OpGPUIsAvailable)
	return asType[bool](backends.OpGPUIsAvailable, v, err)
}

// NumGPUs returns the number of GPUs of the active framework.
func (r *Registry) NumGPUs() (int, error) {
	v, err := r.Invoke(backends.OpNumGPUs)
	return asType[int](backends.OpNumGPUs, v, err)
}

// TPUIsAvailable returns whether the active framework has a TPU.
func (r *Registry) TPUIsAvailable() (bool, error) {
	v, err := r.Invoke(backends.OpTPUIsAvailable)
	return asType[bool](backends.OpTPUIsAvailable, v, err)
}

// Concat concatenates xs along axis.
func (r *Registry) Concat(xs []backends.Array, axis int) (backends.Array, error) {
	return r.callArray(backends.OpConcat, backends.NewCall(xs).With("axis", axis))
}

// Split x along axis. numOrSizes is either the number of splits (int) or the sizes ([]int), or nil to split
// in chunks of size 1. If withRemainder, the number of splits doesn't need to divide the dimension.
func (r *Registry) Split(x backends.Array, axis int, numOrSizes any, withRemainder bool) ([]backends.Array, error) {
	call := backends.NewCall(x).With("axis", axis).With("with_remainder", withRemainder)
	if numOrSizes != nil {
		call.With("num_or_size_splits", numOrSizes)
	}
	v, err := r.Call(backends.OpSplit, call)
	return asType[[]backends.Array](backends.OpSplit, v, err)
}

// Add returns x + y. Each operand is an array or a float64.
func (r *Registry) Add(x, y any) (backends.Array, error) {
	return r.callArray(backends.OpAdd, backends.NewCall(x, y))
}

// Multiply returns x * y. Each operand is an array or a float64.
func (r *Registry) Multiply(x, y any) (backends.Array, error) {
	return r.callArray(backends.OpMultiply, backends.NewCall(x, y))
}

// Divide returns x / y. Each operand is an array or a float64.
func (r *Registry) Divide(x, y any) (backends.Array, error) {
	return r.callArray(backends.OpDivide, backends.NewCall(x, y))
}

// DivideScalar returns x / c.
func (r *Registry) DivideScalar(x backends.Array, c float64) (backends.Array, error) {
	return r.Divide(x, c)
}

func reduceCall(x backends.Array, axes []int, keepDims bool) *backends.Call {
	call := backends.NewCall(x).With("keepdims", keepDims)
	if axes != nil {
		call.With("axes", axes)
	}
	return call
}

// ReduceSum sums x over axes, or over all axes if axes is nil.
func (r *Registry) ReduceSum(x backends.Array, axes []int, keepDims bool) (backends.Array, error) {
	return r.callArray(backends.OpReduceSum, reduceCall(x, axes, keepDims))
}

// ReduceMean averages x over axes, or over all axes if axes is nil.
func (r *Registry) ReduceMean(x backends.Array, axes []int, keepDims bool) (backends.Array, error) {
	return r.callArray(backends.OpReduceMean, reduceCall(x, axes, keepDims))
}

// StopGradient returns x detached from gradient tracking.
func (r *Registry) StopGradient(x backends.Array) (backends.Array, error) {
	return r.callArray(backends.OpStopGradient, backends.NewCall(x))
}

// Variable returns x as a trainable variable.
func (r *Registry) Variable(x backends.Array) (backends.Array, error) {
	return r.callArray(backends.OpVariable, backends.NewCall(x))
}

// InplaceUpdate writes value into x, and returns x.
func (r *Registry) InplaceUpdate(x, value backends.Array) (backends.Array, error) {
	return r.callArray(backends.OpInplaceUpdate, backends.NewCall(x, value))
}

// Astype converts x to dtype.
func (r *Registry) Astype(x backends.Array, dtype string) (backends.Array, error) {
	return r.callArray(backends.OpAstype, backends.NewCall(x).With("dtype", dtype))
}

// ToList returns the flat values of x.
func (r *Registry) ToList(x backends.Array) ([]float64, error) {
	v, err := r.Invoke(backends.OpToList, x)
	return asType[[]float64](backends.OpToList, v, err)
}

// ScatterFlat scatters updates into a flat array of the given size with the reduction ("sum", "min", "max" or
// "replace"). If out is given, it is used as the initial values, and written in place if the framework
// supports it.
func (r *Registry) ScatterFlat(indices []int, updates backends.Array, size int, reduction string, out backends.Array) (backends.Array, error) {
	call := backends.NewCall(indices, updates).With("reduction", reduction)
	if size >= 0 {
		call.With("size", size)
	}
	if out != nil {
		call.With("tensor", out)
		call.Out = out
	}
	return r.callArray(backends.OpScatterFlat, call)
}
