// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/device"
	mfdtypes "github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stringCodec uses the canonical strings themselves as native handles.
type stringCodec struct{}

func (stringCodec) ToNative(dev device.Device) (any, error) { return "native:" + dev.String(), nil }

func (stringCodec) FromNative(native any) (device.Device, error) {
	s, ok := native.(string)
	if !ok || len(s) < 7 {
		return device.Device{}, errdefs.Configurationf("bad native device %v", native)
	}
	return device.Parse(s[7:])
}

var testDTypes = mfdtypes.MustNewTable("test", map[string]string{
	"bool": "b", "int32": "i32", "int64": "i64", "float16": "f16", "float32": "f32", "float64": "f64",
})

func newTestBackend(opts Options) *Base {
	return New("test", stringCodec{}, testDTypes, opts)
}

func call(t *testing.T, b *Base, op string, c *backends.Call) any {
	fn, found := b.Ops()[op]
	require.True(t, found, "op %q not found", op)
	out, err := fn(c)
	require.NoError(t, err, "op %q failed", op)
	return out
}

func tensor(t *testing.T, b *Base, data any, dims ...int) *Tensor {
	c := backends.NewCall(data)
	if len(dims) > 0 {
		c.With("shape", dims)
	}
	return call(t, b, backends.OpArray, c).(*Tensor)
}

func TestParseDeviceConfig(t *testing.T) {
	gpus, tpus, err := ParseDeviceConfig("gpus=2,tpus=1")
	require.NoError(t, err)
	assert.Equal(t, 2, gpus)
	assert.Equal(t, 1, tpus)
	gpus, tpus, err = ParseDeviceConfig("")
	require.NoError(t, err)
	assert.Zero(t, gpus+tpus)
	for _, bad := range []string{"gpus=-1", "gpus=x", "cpus=2"} {
		_, _, err = ParseDeviceConfig(bad)
		assert.True(t, errdefs.IsConfiguration(err), "config %q: %v", bad, err)
	}
}

func TestCapabilityOptions(t *testing.T) {
	minimal := newTestBackend(Options{})
	ops := minimal.Ops()
	for _, op := range []string{backends.OpReduceMean, backends.OpStopGradient, backends.OpVariable, backends.OpInplaceUpdate} {
		assert.NotContains(t, ops, op)
	}
	full := newTestBackend(Options{ReduceMean: true, Autodiff: true, Inplace: true})
	ops = full.Ops()
	for _, op := range []string{backends.OpReduceMean, backends.OpStopGradient, backends.OpVariable, backends.OpInplaceUpdate} {
		assert.Contains(t, ops, op)
	}
	delete(ops, backends.OpAdd)
	assert.Contains(t, full.Ops(), backends.OpAdd, "Ops must return a copy")
}

func TestDevices(t *testing.T) {
	b := newTestBackend(Options{NumGPUs: 2, NumTPUs: 1})
	for _, dev := range []string{"cpu", "gpu:0", "gpu:1", "tpu:0"} {
		native, err := b.DevFromStr(dev)
		require.NoError(t, err)
		got, err := b.DevToStr(native)
		require.NoError(t, err)
		assert.Equal(t, dev, got)
	}
	_, err := b.DevFromStr("gpu:2")
	assert.True(t, errdefs.IsUnsupported(err))
	_, err = b.DevFromStr("gpu2")
	assert.True(t, errdefs.IsConfiguration(err))

	cpuOnly := newTestBackend(Options{CPUOnly: true, NumGPUs: 4})
	assert.False(t, cpuOnly.GPUIsAvailable())
	_, err = cpuOnly.DevFromStr("gpu:0")
	assert.True(t, errdefs.IsUnsupported(err))

	x := tensor(t, b, []float64{1, 2})
	assert.Equal(t, "cpu", x.Device())
	moved := call(t, b, backends.OpToDev, backends.NewCall(x).OnDevice("gpu:1")).(*Tensor)
	assert.Equal(t, "gpu:1", moved.Device())
	assert.Equal(t, x.Flat(), moved.Flat())
	native := call(t, b, backends.OpDev, backends.NewCall(moved))
	assert.Equal(t, "native:gpu:1", native)
	assert.Same(t, x, call(t, b, backends.OpToDev, backends.NewCall(x)), "to_dev without a device is a no-op")

	// The spec is copied, not shared, when moving across devices.
	x.SetArraySpec(&backends.Spec{Op: "array", Attributes: map[string]any{"origin": "host"}})
	moved = call(t, b, backends.OpToDev, backends.NewCall(x).OnDevice("gpu:0")).(*Tensor)
	require.NotNil(t, moved.ArraySpec())
	assert.NotSame(t, x.ArraySpec(), moved.ArraySpec())
	assert.Equal(t, x.ArraySpec(), moved.ArraySpec())
	moved.ArraySpec().Op = "to_dev"
	moved.ArraySpec().Attributes["origin"] = "gpu:0"
	assert.Equal(t, "array", x.ArraySpec().Op)
	assert.Equal(t, "host", x.ArraySpec().Attributes["origin"])
}

func TestArrayAndAstype(t *testing.T) {
	b := newTestBackend(Options{})
	x := tensor(t, b, []float64{1.5, -2.25, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Float32, x.Shape().DType)
	assert.Equal(t, []int{2, 3}, x.Shape().Dimensions)
	assert.True(t, b.IsNativeArray(x))
	assert.False(t, newTestBackend(Options{}).IsNativeArray(1.0))

	i := call(t, b, backends.OpAstype, backends.NewCall(x).With("dtype", "int32")).(*Tensor)
	assert.Equal(t, []float64{1, -2, 3, 4, 5, 6}, i.Flat())
	h := call(t, b, backends.OpAstype, backends.NewCall(tensor(t, b, []float64{0.1})).With("dtype", "float16")).(*Tensor)
	assert.InDelta(t, 0.1, h.Flat()[0], 1e-4)
	assert.NotEqual(t, 0.1, h.Flat()[0])

	_, err := b.Ops()[backends.OpAstype](backends.NewCall(x).With("dtype", "complex64"))
	assert.True(t, errdefs.IsUnsupported(err))
	_, err = b.Ops()[backends.OpAstype](backends.NewCall(x).With("dtype", "float128"))
	assert.True(t, errdefs.IsConfiguration(err))
	_, err = b.Ops()[backends.OpArray](backends.NewCall([]float64{1, 2, 3}).With("shape", []int{2, 2}))
	assert.True(t, errdefs.IsConfiguration(err))

	z := call(t, b, backends.OpZeros, backends.NewCall().With("shape", []int{3}).With("dtype", "int64")).(*Tensor)
	assert.Equal(t, []float64{0, 0, 0}, z.Flat())
	assert.Equal(t, dtypes.Int64, z.Shape().DType)
}

func TestConcatSplit(t *testing.T) {
	b := newTestBackend(Options{})
	x := tensor(t, b, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}, 7, 2)

	parts := call(t, b, backends.OpSplit, backends.NewCall(x).
		With("num_or_size_splits", 3).With("with_remainder", true)).([]backends.Array)
	require.Len(t, parts, 3)
	var dims []int
	for _, p := range parts {
		dims = append(dims, p.Shape().Dimensions[0])
	}
	assert.Equal(t, []int{3, 2, 2}, dims)
	assert.Equal(t, []float64{6, 7, 8, 9}, parts[1].(*Tensor).Flat())

	_, err := b.Ops()[backends.OpSplit](backends.NewCall(x).With("num_or_size_splits", 3))
	assert.True(t, errdefs.IsConfiguration(err), "uneven split requires with_remainder")

	joined := call(t, b, backends.OpConcat, backends.NewCall(parts)).(*Tensor)
	assert.Equal(t, x.Flat(), joined.Flat())
	assert.Equal(t, x.Shape().Dimensions, joined.Shape().Dimensions)

	cols := call(t, b, backends.OpSplit, backends.NewCall(x).With("axis", 1)).([]backends.Array)
	require.Len(t, cols, 2)
	assert.Equal(t, []float64{1, 3, 5, 7, 9, 11, 13}, cols[1].(*Tensor).Flat())
	rejoined := call(t, b, backends.OpConcat, backends.NewCall(cols).With("axis", -1)).(*Tensor)
	assert.Equal(t, x.Flat(), rejoined.Flat())

	sized := call(t, b, backends.OpSplit, backends.NewCall(x).With("num_or_size_splits", []int{1, 6})).([]backends.Array)
	assert.Equal(t, []int{6, 2}, sized[1].Shape().Dimensions)
}

func TestArithmeticAndReductions(t *testing.T) {
	b := newTestBackend(Options{ReduceMean: true})
	x := tensor(t, b, []float64{1, 2, 3, 4, 5, 6}, 2, 3)
	y := tensor(t, b, []float64{6, 5, 4, 3, 2, 1}, 2, 3)

	sum := call(t, b, backends.OpAdd, backends.NewCall(x, y)).(*Tensor)
	assert.Equal(t, []float64{7, 7, 7, 7, 7, 7}, sum.Flat())
	prod := call(t, b, backends.OpMultiply, backends.NewCall(2.0, x)).(*Tensor)
	assert.Equal(t, []float64{2, 4, 6, 8, 10, 12}, prod.Flat())
	div := call(t, b, backends.OpDivide, backends.NewCall(x, 2)).(*Tensor)
	assert.Equal(t, []float64{0.5, 1, 1.5, 2, 2.5, 3}, div.Flat())

	ints := call(t, b, backends.OpAstype, backends.NewCall(x).With("dtype", "int32")).(*Tensor)
	intDiv := call(t, b, backends.OpDivide, backends.NewCall(ints, 4)).(*Tensor)
	assert.Equal(t, dtypes.Float64, intDiv.Shape().DType)
	assert.Equal(t, 0.25, intDiv.Flat()[0])

	_, err := b.Ops()[backends.OpAdd](backends.NewCall(x, tensor(t, b, []float64{1, 2})))
	assert.True(t, errdefs.IsConfiguration(err))
	_, err = b.Ops()[backends.OpAdd](backends.NewCall(1.0, 2.0))
	assert.True(t, errdefs.IsConfiguration(err))

	total := call(t, b, backends.OpReduceSum, backends.NewCall(x)).(*Tensor)
	assert.True(t, total.Shape().IsScalar())
	assert.Equal(t, []float64{21}, total.Flat())
	rows := call(t, b, backends.OpReduceSum, backends.NewCall(x).With("axes", []int{1})).(*Tensor)
	assert.Equal(t, []float64{6, 15}, rows.Flat())
	colsKeep := call(t, b, backends.OpReduceSum, backends.NewCall(x).With("axis", 0).With("keepdims", true)).(*Tensor)
	assert.Equal(t, []int{1, 3}, colsKeep.Shape().Dimensions)
	assert.Equal(t, []float64{5, 7, 9}, colsKeep.Flat())
	mean := call(t, b, backends.OpReduceMean, backends.NewCall(x).With("axes", []int{-1})).(*Tensor)
	assert.Equal(t, []float64{2, 5}, mean.Flat())
}

func TestGradientsAndInplace(t *testing.T) {
	b := newTestBackend(Options{Autodiff: true, Inplace: true})
	x := tensor(t, b, []float64{1, 2, 3})
	v := call(t, b, backends.OpVariable, backends.NewCall(x)).(*Tensor)
	assert.True(t, v.RequiresGrad())
	detached := call(t, b, backends.OpStopGradient, backends.NewCall(v)).(*Tensor)
	assert.False(t, detached.RequiresGrad())
	assert.Equal(t, v.Flat(), detached.Flat())

	ints := call(t, b, backends.OpAstype, backends.NewCall(x).With("dtype", "int32")).(*Tensor)
	_, err := b.Ops()[backends.OpVariable](backends.NewCall(ints))
	assert.True(t, errdefs.IsUnsupported(err))

	updated := call(t, b, backends.OpInplaceUpdate, backends.NewCall(x, tensor(t, b, []float64{7, 8, 9}))).(*Tensor)
	assert.Same(t, x, updated)
	assert.Equal(t, []float64{7, 8, 9}, x.Flat())
	assert.Equal(t, []float64{7, 8, 9}, call(t, b, backends.OpToList, backends.NewCall(x)))
}

func TestScatterFlat(t *testing.T) {
	b := newTestBackend(Options{})
	updates := tensor(t, b, []float64{1, 2, 3, 4})
	indices := []int{0, 2, 2, 3}
	for _, tc := range []struct {
		reduction string
		want      []float64
	}{
		{ScatterSum, []float64{1, 0, 5, 4, 0}},
		{ScatterMin, []float64{1, 0, 2, 4, 0}},
		{ScatterMax, []float64{1, 0, 3, 4, 0}},
		{ScatterReplace, []float64{1, 0, 3, 4, 0}},
	} {
		t.Run(tc.reduction, func(t *testing.T) {
			out := call(t, b, backends.OpScatterFlat, backends.NewCall(indices, updates).
				With("size", 5).With("reduction", tc.reduction)).(*Tensor)
			assert.Equal(t, tc.want, out.Flat())
		})
	}

	initial := tensor(t, b, []float64{10, 10, 10, 10})
	out := call(t, b, backends.OpScatterFlat, backends.NewCall(indices, updates).
		With("tensor", initial).With("reduction", ScatterMin)).(*Tensor)
	assert.Equal(t, []float64{1, 10, 2, 4}, out.Flat())

	_, err := b.Ops()[backends.OpScatterFlat](backends.NewCall(indices, updates).With("tensor", initial).With("size", 7))
	assert.True(t, errdefs.IsConfiguration(err), "target shape mismatch")
	_, err = b.Ops()[backends.OpScatterFlat](backends.NewCall([]int{9, 0, 0, 0}, updates).With("size", 5))
	assert.True(t, errdefs.IsConfiguration(err))

	replaceOnly := newTestBackend(Options{ScatterReductions: []string{ScatterReplace}})
	_, err = replaceOnly.Ops()[backends.OpScatterFlat](backends.NewCall(indices, updates).With("size", 5))
	assert.True(t, errdefs.IsUnsupported(err))
}
