// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Names of the operations of the public namespace.
//
// Argument conventions (positional Args, named Params):
//
//   - OpArray: Args[0] the data (a scalar, []float64, []float32, []int or [][]float64); Params "shape" ([]int)
//     and "dtype" (canonical string, default "float32"). Placed on Call.Device.
//   - OpZeros: Params "shape" and "dtype". Placed on Call.Device.
//   - OpToDev: Args[0] the array, moved to Call.Device.
//   - OpDev: Args[0] the array; returns its native device handle.
//   - OpDevToStr / OpDevFromStr: Args[0] the native handle / the canonical device string.
//   - OpClearMemOnDev: Args[0] the canonical device string.
//   - OpConcat: Args[0] a []Array; Params "axis" (default 0).
//   - OpSplit: Args[0] the array; Params "axis", "num_or_size_splits" (int or []int), "with_remainder" (bool).
//   - OpAdd, OpMultiply, OpDivide: Args[0] and Args[1], arrays or float64 scalars.
//   - OpReduceSum, OpReduceMean: Args[0] the array; Params "axes" ([]int, default all), "keepdims" (bool).
//   - OpStopGradient, OpVariable, OpToList: Args[0] the array.
//   - OpInplaceUpdate: Args[0] the target array, Args[1] the new value.
//   - OpAstype: Args[0] the array; Params "dtype".
//   - OpScatterFlat: Args[0] the indices ([]int), Args[1] the updates array; Params "size" (int), "reduction"
//     (one of "sum", "min", "max", "replace"; default "sum") and "tensor" (optional initial values).
const (
	OpArray               = "array"
	OpZeros               = "zeros"
	OpToDev               = "to_dev"
	OpDev                 = "dev"
	OpDevToStr            = "dev_to_str"
	OpDevFromStr          = "dev_from_str"
	OpClearMemOnDev       = "clear_mem_on_dev"
	OpGPUIsAvailable      = "gpu_is_available"
	OpNumGPUs             = "num_gpus"
	OpTPUIsAvailable      = "tpu_is_available"
	OpConcat              = "concat"
	OpSplit               = "split"
	OpAdd                 = "add"
	OpMultiply            = "multiply"
	OpDivide              = "divide"
	OpReduceSum           = "reduce_sum"
	OpReduceMean          = "reduce_mean"
	OpStopGradient        = "stop_gradient"
	OpVariable            = "variable"
	OpInplaceUpdate       = "inplace_update"
	OpAstype              = "astype"
	OpToList              = "to_list"
	OpScatterFlat         = "scatter_flat"
	OpCurrentFrameworkStr = "current_framework_str"
)

// OpNames lists all operations of the public namespace.
var OpNames = []string{
	OpArray, OpZeros, OpToDev, OpDev, OpDevToStr, OpDevFromStr, OpClearMemOnDev,
	OpGPUIsAvailable, OpNumGPUs, OpTPUIsAvailable,
	OpConcat, OpSplit, OpAdd, OpMultiply, OpDivide, OpReduceSum, OpReduceMean,
	OpStopGradient, OpVariable, OpInplaceUpdate, OpAstype, OpToList, OpScatterFlat,
	OpCurrentFrameworkStr,
}

// CreatesArray returns whether the operation creates a new array from scratch, in which case the
// default device applies when Call.Device is empty.
func CreatesArray(op string) bool {
	switch op {
	case OpArray, OpZeros:
		return true
	}
	return false
}

// Fn is the signature of every operation.
type Fn func(call *Call) (any, error)

// Table maps operation names to their implementation.
type Table map[string]Fn

// Dispatcher calls operations by name through the active namespace. It allows composed operations to call
// other operations of whatever backend is currently active.
type Dispatcher interface {
	Call(name string, call *Call) (any, error)
}
