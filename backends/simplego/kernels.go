// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"slices"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/core/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// tensorArg returns the i-th positional argument as a Tensor of this backend.
func (b *Base) tensorArg(call *backends.Call, i int) (*Tensor, error) {
	x, err := call.ArrayArg(i)
	if err != nil {
		return nil, err
	}
	return b.asTensor(x)
}

func (b *Base) asTensor(x backends.Array) (*Tensor, error) {
	t, ok := x.(*Tensor)
	if !ok || t.framework != b.name {
		return nil, errdefs.Configurationf("backend %q can't operate on a %T of framework %q", b.name, x, frameworkOf(x))
	}
	return t, nil
}

// dtypeParam returns the "dtype" parameter, checking it is supported by the backend.
func (b *Base) dtypeParam(call *backends.Call, defaultDType string) (string, dtypes.DType, error) {
	name, err := backends.ParamAs(call, "dtype", defaultDType)
	if err != nil {
		return "", 0, err
	}
	dt, err := dtypes.Parse(name)
	if err != nil {
		return "", 0, err
	}
	if !b.dtypes.Supports(name) {
		return "", 0, errdefs.Unsupportedf("backend %q doesn't support dtype %q", b.name, name)
	}
	return name, dt, nil
}

func canonicalOf(s shapes.Shape) string {
	name, err := dtypes.Canonical(s.DType)
	if err != nil {
		return dtypes.Float64
	}
	return name
}

func (b *Base) opArray(call *backends.Call) (any, error) {
	data, err := call.Arg(0)
	if err != nil {
		return nil, err
	}
	flat, dims, err := flatten(data)
	if err != nil {
		return nil, err
	}
	shapeParam, err := backends.ParamAs(call, "shape", []int(nil))
	if err != nil {
		return nil, err
	}
	if shapeParam != nil {
		size := 1
		for _, dim := range shapeParam {
			if dim < 0 {
				return nil, errdefs.Configurationf("invalid array shape %v", shapeParam)
			}
			size *= dim
		}
		if size != len(flat) {
			return nil, errdefs.Configurationf("array data has %d elements, it can't be shaped as %v", len(flat), shapeParam)
		}
		dims = slices.Clone(shapeParam)
	}
	name, dt, err := b.dtypeParam(call, dtypes.Float32)
	if err != nil {
		return nil, err
	}
	dev, err := b.placement(call.Device)
	if err != nil {
		return nil, err
	}
	return NewTensor(b.name, shapes.Make(dt, dims...), dev, castFlat(name, flat)), nil
}

func (b *Base) opZeros(call *backends.Call) (any, error) {
	dims, err := backends.ParamAs(call, "shape", []int(nil))
	if err != nil {
		return nil, err
	}
	if dims == nil {
		return nil, errdefs.Configurationf("zeros requires a \"shape\" parameter")
	}
	_, dt, err := b.dtypeParam(call, dtypes.Float32)
	if err != nil {
		return nil, err
	}
	dev, err := b.placement(call.Device)
	if err != nil {
		return nil, err
	}
	shape := shapes.Make(dt, dims...)
	return NewTensor(b.name, shape, dev, make([]float64, shape.Size())), nil
}

func (b *Base) opToDev(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	if call.Device == "" || call.Device == t.device {
		return t, nil
	}
	if _, err := b.checkDevice(call.Device); err != nil {
		return nil, err
	}
	moved := t.clone(call.Device)
	moved.requiresGrad = t.requiresGrad
	moved.spec = t.spec.Clone()
	return moved, nil
}

func (b *Base) opDev(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	return b.Dev(t)
}

func (b *Base) opDevToStr(call *backends.Call) (any, error) {
	native, err := call.Arg(0)
	if err != nil {
		return nil, err
	}
	return b.DevToStr(native)
}

func (b *Base) opDevFromStr(call *backends.Call) (any, error) {
	dev, err := call.Arg(0)
	if err != nil {
		return nil, err
	}
	devStr, ok := dev.(string)
	if !ok {
		return nil, errdefs.Configurationf("dev_from_str requires a device string, got %T", dev)
	}
	return b.DevFromStr(devStr)
}

// arraysArg converts the argument of concat to a list of Tensor.
func (b *Base) arraysArg(call *backends.Call) ([]*Tensor, error) {
	arg, err := call.Arg(0)
	if err != nil {
		return nil, err
	}
	var arrays []backends.Array
	switch v := arg.(type) {
	case []backends.Array:
		arrays = v
	case []*Tensor:
		for _, t := range v {
			arrays = append(arrays, t)
		}
	case []any:
		for ii, e := range v {
			x, ok := e.(backends.Array)
			if !ok {
				return nil, errdefs.Configurationf("element #%d of the list of arrays is a %T", ii, e)
			}
			arrays = append(arrays, x)
		}
	default:
		return nil, errdefs.Configurationf("expected a list of arrays, got %T", arg)
	}
	if len(arrays) == 0 {
		return nil, errdefs.Configurationf("empty list of arrays")
	}
	tensors := make([]*Tensor, len(arrays))
	for ii, x := range arrays {
		tensors[ii], err = b.asTensor(x)
		if err != nil {
			return nil, err
		}
	}
	return tensors, nil
}

func (b *Base) opConcat(call *backends.Call) (any, error) {
	tensors, err := b.arraysArg(call)
	if err != nil {
		return nil, err
	}
	axisParam, err := backends.ParamAs(call, "axis", 0)
	if err != nil {
		return nil, err
	}
	first := tensors[0]
	axis, err := first.shape.AdjustAxis(axisParam)
	if err != nil {
		return nil, err
	}
	total := 0
	for ii, t := range tensors {
		if t.device != first.device {
			return nil, errdefs.Configurationf("concat: array #%d is on device %q, array #0 on %q", ii, t.device, first.device)
		}
		if t.shape.DType != first.shape.DType || t.shape.Rank() != first.shape.Rank() {
			return nil, errdefs.Configurationf("concat: array #%d has shape %s, incompatible with %s", ii, t.shape, first.shape)
		}
		for jj, dim := range t.shape.Dimensions {
			if jj != axis && dim != first.shape.Dimensions[jj] {
				return nil, errdefs.Configurationf("concat: array #%d has shape %s, incompatible with %s on axis %d",
					ii, t.shape, first.shape, axis)
			}
		}
		total += t.shape.Dimensions[axis]
	}
	outShape := first.shape.WithDim(axis, total)
	outer, inner := first.shape.Strides(axis)
	flat := make([]float64, 0, outShape.Size())
	for o := range outer {
		for _, t := range tensors {
			block := t.shape.Dimensions[axis] * inner
			flat = append(flat, t.flat[o*block:(o+1)*block]...)
		}
	}
	return first.derive(outShape, first.device, flat), nil
}

// splitSizes resolves the "num_or_size_splits" and "with_remainder" parameters of split.
func splitSizes(call *backends.Call, dim int) ([]int, error) {
	withRemainder, err := backends.ParamAs(call, "with_remainder", false)
	if err != nil {
		return nil, err
	}
	param, found := call.Param("num_or_size_splits")
	if !found {
		return shapes.SplitSizes(dim, dim)
	}
	switch v := param.(type) {
	case int:
		if v <= 0 {
			return nil, errdefs.Configurationf("split: number of splits must be positive, got %d", v)
		}
		if dim%v != 0 && !withRemainder {
			return nil, errdefs.Configurationf("split: dimension %d is not divisible into %d splits, "+
				"set with_remainder to allow uneven splits", dim, v)
		}
		return shapes.SplitSizes(dim, v)
	case []int:
		if err := shapes.CheckSplitSizes(dim, v); err != nil {
			return nil, err
		}
		return slices.Clone(v), nil
	}
	return nil, errdefs.Configurationf("split: num_or_size_splits must be an int or []int, got %T", param)
}

func (b *Base) opSplit(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	if t.shape.IsScalar() {
		return nil, errdefs.Configurationf("split: can't split a scalar")
	}
	axisParam, err := backends.ParamAs(call, "axis", 0)
	if err != nil {
		return nil, err
	}
	axis, err := t.shape.AdjustAxis(axisParam)
	if err != nil {
		return nil, err
	}
	dim := t.shape.Dimensions[axis]
	sizes, err := splitSizes(call, dim)
	if err != nil {
		return nil, err
	}
	outer, inner := t.shape.Strides(axis)
	parts := make([]backends.Array, 0, len(sizes))
	offset := 0
	for _, size := range sizes {
		partShape := t.shape.WithDim(axis, size)
		flat := make([]float64, 0, partShape.Size())
		for o := range outer {
			start := (o*dim + offset) * inner
			flat = append(flat, t.flat[start:start+size*inner]...)
		}
		parts = append(parts, t.derive(partShape, t.device, flat))
		offset += size
	}
	return parts, nil
}

type binaryKind int

const (
	opAdd binaryKind = iota
	opMultiply
	opDivide
)

func (k binaryKind) String() string {
	switch k {
	case opAdd:
		return backends.OpAdd
	case opMultiply:
		return backends.OpMultiply
	}
	return backends.OpDivide
}

// operand is one side of a binary operation: either a tensor or a scalar.
type operand struct {
	t      *Tensor
	scalar float64
}

func (b *Base) operandArg(call *backends.Call, i int) (operand, error) {
	v, err := call.Arg(i)
	if err != nil {
		return operand{}, err
	}
	switch x := v.(type) {
	case float64:
		return operand{scalar: x}, nil
	case float32:
		return operand{scalar: float64(x)}, nil
	case int:
		return operand{scalar: float64(x)}, nil
	case backends.Array:
		t, err := b.asTensor(x)
		if err != nil {
			return operand{}, err
		}
		if t.shape.IsScalar() {
			return operand{t: t, scalar: t.flat[0]}, nil
		}
		return operand{t: t}, nil
	}
	return operand{}, errdefs.Configurationf("argument #%d must be an array or a scalar, got %T", i, v)
}

func (o operand) isScalar() bool { return o.t == nil || o.t.shape.IsScalar() }

func (b *Base) binaryOp(kind binaryKind) backends.Fn {
	return func(call *backends.Call) (any, error) {
		lhs, err := b.operandArg(call, 0)
		if err != nil {
			return nil, err
		}
		rhs, err := b.operandArg(call, 1)
		if err != nil {
			return nil, err
		}
		if lhs.t == nil && rhs.t == nil {
			return nil, errdefs.Configurationf("%s: at least one of the operands must be an array", kind)
		}
		// ref is the tensor providing the output shape.
		ref := lhs.t
		if ref == nil || (ref.shape.IsScalar() && rhs.t != nil) {
			ref = rhs.t
		}
		if lhs.t != nil && rhs.t != nil {
			if lhs.t.device != rhs.t.device {
				return nil, errdefs.Configurationf("%s: operands on different devices %q and %q", kind, lhs.t.device, rhs.t.device)
			}
			if !lhs.isScalar() && !rhs.isScalar() && !lhs.t.shape.EqualDimensions(rhs.t.shape) {
				return nil, errdefs.Configurationf("%s: incompatible shapes %s and %s", kind, lhs.t.shape, rhs.t.shape)
			}
		}
		n := ref.shape.Size()
		out := make([]float64, n)
		switch {
		case !lhs.isScalar() && !rhs.isScalar():
			switch kind {
			case opAdd:
				floats.AddTo(out, lhs.t.flat, rhs.t.flat)
			case opMultiply:
				floats.MulTo(out, lhs.t.flat, rhs.t.flat)
			case opDivide:
				floats.DivTo(out, lhs.t.flat, rhs.t.flat)
			}
		case !lhs.isScalar():
			copy(out, lhs.t.flat)
			switch kind {
			case opAdd:
				floats.AddConst(rhs.scalar, out)
			case opMultiply:
				floats.Scale(rhs.scalar, out)
			case opDivide:
				for ii := range out {
					out[ii] /= rhs.scalar
				}
			}
		case !rhs.isScalar():
			copy(out, rhs.t.flat)
			switch kind {
			case opAdd:
				floats.AddConst(lhs.scalar, out)
			case opMultiply:
				floats.Scale(lhs.scalar, out)
			case opDivide:
				for ii := range out {
					out[ii] = lhs.scalar / out[ii]
				}
			}
		default:
			out[0] = applyScalar(kind, lhs.scalar, rhs.scalar)
		}
		outShape := ref.shape.Clone()
		dtype := canonicalOf(outShape)
		if kind == opDivide && !dtypes.IsFloat(dtype) {
			// True division of integers produces floats.
			dtype = dtypes.Float32
			if b.dtypes.Supports(dtypes.Float64) {
				dtype = dtypes.Float64
			}
			outShape.DType, _ = dtypes.Parse(dtype)
		}
		return ref.derive(outShape, ref.device, castFlat(dtype, out)), nil
	}
}

func applyScalar(kind binaryKind, x, y float64) float64 {
	switch kind {
	case opAdd:
		return x + y
	case opMultiply:
		return x * y
	}
	return x / y
}

// axesParams returns the reduced axes (sorted, unique) and the keepdims flag.
func axesParams(call *backends.Call, shape shapes.Shape) (axes []int, keepDims bool, err error) {
	keepDims, err = backends.ParamAs(call, "keepdims", false)
	if err != nil {
		return nil, false, err
	}
	param, found := call.Param("axes")
	if !found {
		param, found = call.Param("axis")
	}
	if !found {
		axes = make([]int, shape.Rank())
		for ii := range axes {
			axes[ii] = ii
		}
		return axes, keepDims, nil
	}
	var raw []int
	switch v := param.(type) {
	case int:
		raw = []int{v}
	case []int:
		raw = v
	default:
		return nil, false, errdefs.Configurationf("reduction axes must be an int or []int, got %T", param)
	}
	for _, a := range raw {
		adjusted, err := shape.AdjustAxis(a)
		if err != nil {
			return nil, false, err
		}
		axes = append(axes, adjusted)
	}
	slices.Sort(axes)
	return slices.Compact(axes), keepDims, nil
}

// reduceSum sums t over the given axes.
func reduceSum(t *Tensor, axes []int, keepDims bool) *Tensor {
	rank := t.shape.Rank()
	reduced := make([]bool, rank)
	for _, a := range axes {
		reduced[a] = true
	}
	var outDims []int
	for ii, dim := range t.shape.Dimensions {
		switch {
		case !reduced[ii]:
			outDims = append(outDims, dim)
		case keepDims:
			outDims = append(outDims, 1)
		}
	}
	outShape := shapes.Make(t.shape.DType, outDims...)
	if len(axes) == rank {
		out := make([]float64, outShape.Size())
		out[0] = floats.Sum(t.flat)
		return t.derive(outShape, t.device, castFlat(canonicalOf(outShape), out))
	}

	// outStrides[ii] is the stride in the output of input axis ii, 0 for reduced axes.
	outStrides := make([]int, rank)
	stride := 1
	for ii := rank - 1; ii >= 0; ii-- {
		if reduced[ii] {
			continue
		}
		outStrides[ii] = stride
		stride *= t.shape.Dimensions[ii]
	}
	out := make([]float64, outShape.Size())
	index := make([]int, rank)
	for _, v := range t.flat {
		outIdx := 0
		for ii, idx := range index {
			outIdx += idx * outStrides[ii]
		}
		out[outIdx] += v
		for ii := rank - 1; ii >= 0; ii-- {
			index[ii]++
			if index[ii] < t.shape.Dimensions[ii] {
				break
			}
			index[ii] = 0
		}
	}
	return t.derive(outShape, t.device, castFlat(canonicalOf(outShape), out))
}

func (b *Base) opReduceSum(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	axes, keepDims, err := axesParams(call, t.shape)
	if err != nil {
		return nil, err
	}
	return reduceSum(t, axes, keepDims), nil
}

func (b *Base) opReduceMean(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	axes, keepDims, err := axesParams(call, t.shape)
	if err != nil {
		return nil, err
	}
	count := 1
	for _, a := range axes {
		count *= t.shape.Dimensions[a]
	}
	if count == 0 {
		return nil, errdefs.Configurationf("reduce_mean over an empty set of elements (shape %s)", t.shape)
	}
	sum := reduceSum(t, axes, keepDims)
	for ii := range sum.flat {
		sum.flat[ii] /= float64(count)
	}
	sum.flat = castFlat(canonicalOf(sum.shape), sum.flat)
	return sum, nil
}

func (b *Base) opAstype(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	if _, found := call.Param("dtype"); !found {
		return nil, errdefs.Configurationf("astype requires a \"dtype\" parameter")
	}
	name, dt, err := b.dtypeParam(call, "")
	if err != nil {
		return nil, err
	}
	outShape := t.shape.Clone()
	outShape.DType = dt
	return t.derive(outShape, t.device, castFlat(name, t.flat)), nil
}

func (b *Base) opToList(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	return slices.Clone(t.flat), nil
}

func (b *Base) opStopGradient(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	return t.clone(t.device), nil
}

func (b *Base) opVariable(call *backends.Call) (any, error) {
	t, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	if !dtypes.IsFloat(canonicalOf(t.shape)) {
		return nil, errdefs.Unsupportedf("backend %q can only create variables of float dtypes, got %s", b.name, t.shape)
	}
	v := t.clone(t.device)
	v.requiresGrad = true
	return v, nil
}

func (b *Base) opInplaceUpdate(call *backends.Call) (any, error) {
	target, err := b.tensorArg(call, 0)
	if err != nil {
		return nil, err
	}
	value, err := b.tensorArg(call, 1)
	if err != nil {
		return nil, err
	}
	if !target.shape.EqualDimensions(value.shape) {
		return nil, errdefs.Configurationf("inplace_update: target shape %s doesn't match value shape %s",
			target.shape, value.shape)
	}
	copy(target.flat, castFlat(canonicalOf(target.shape), value.flat))
	return target, nil
}

// Scatter reductions.
const (
	ScatterSum     = "sum"
	ScatterMin     = "min"
	ScatterMax     = "max"
	ScatterReplace = "replace"
)

func (b *Base) opScatterFlat(call *backends.Call) (any, error) {
	indicesArg, err := call.Arg(0)
	if err != nil {
		return nil, err
	}
	indices, ok := indicesArg.([]int)
	if !ok {
		return nil, errdefs.Configurationf("scatter_flat: indices must be a []int, got %T", indicesArg)
	}
	updates, err := b.tensorArg(call, 1)
	if err != nil {
		return nil, err
	}
	if updates.shape.Size() != len(indices) {
		return nil, errdefs.Configurationf("scatter_flat: %d indices given for %d updates", len(indices), updates.shape.Size())
	}
	reduction, err := backends.ParamAs(call, "reduction", ScatterSum)
	if err != nil {
		return nil, err
	}
	switch reduction {
	case ScatterSum, ScatterMin, ScatterMax, ScatterReplace:
	default:
		return nil, errdefs.Configurationf("scatter_flat: invalid reduction %q, valid values are sum, min, max or replace", reduction)
	}
	if b.opts.ScatterReductions != nil && !slices.Contains(b.opts.ScatterReductions, reduction) {
		return nil, errdefs.Unsupportedf("backend %q scatter_flat only supports the reductions %v, got %q",
			b.name, b.opts.ScatterReductions, reduction)
	}
	size, err := backends.ParamAs(call, "size", -1)
	if err != nil {
		return nil, err
	}

	var out []float64
	touched := make([]bool, 0)
	if initial, found := call.Param("tensor"); found {
		initialArray, ok := initial.(backends.Array)
		if !ok {
			return nil, errdefs.Configurationf("scatter_flat: \"tensor\" must be an array, got %T", initial)
		}
		it, err := b.asTensor(initialArray)
		if err != nil {
			return nil, err
		}
		if size >= 0 && size != it.shape.Size() {
			return nil, errdefs.Configurationf("scatter_flat: size %d doesn't match the target shape %s", size, it.shape)
		}
		out = slices.Clone(it.flat)
		touched = make([]bool, len(out))
		for ii := range touched {
			touched[ii] = true
		}
	} else {
		if size < 0 {
			return nil, errdefs.Configurationf("scatter_flat requires either the \"size\" or the \"tensor\" parameter")
		}
		out = make([]float64, size)
		touched = make([]bool, size)
	}

	for ii, idx := range indices {
		if idx < 0 || idx >= len(out) {
			return nil, errdefs.Configurationf("scatter_flat: index %d out of range for size %d", idx, len(out))
		}
		v := updates.flat[ii]
		switch {
		case reduction == ScatterReplace || !touched[idx]:
			out[idx] = v
		case reduction == ScatterSum:
			out[idx] += v
		case reduction == ScatterMin:
			out[idx] = min(out[idx], v)
		case reduction == ScatterMax:
			out[idx] = max(out[idx], v)
		}
		touched[idx] = true
	}
	outShape := shapes.Make(updates.shape.DType, len(out))
	return updates.derive(outShape, updates.device, castFlat(canonicalOf(outShape), out)), nil
}

// AsTensor returns x as a *Tensor, or an error if it is not one.
func AsTensor(x any) (*Tensor, error) {
	t, ok := x.(*Tensor)
	if !ok {
		return nil, errors.Errorf("expected a *simplego.Tensor, got %T", x)
	}
	return t, nil
}
