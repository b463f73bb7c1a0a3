// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multidev_test

import (
	"testing"

	"github.com/gomlx/multiframe/backends"
	_ "github.com/gomlx/multiframe/backends/default"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/core/framework"
	. "github.com/gomlx/multiframe/pkg/core/multidev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Ops = (*framework.Registry)(nil)

// newRegistry returns a registry with torch active, configured with config.
func newRegistry(t *testing.T, config string) *framework.Registry {
	r := framework.New()
	require.NoError(t, r.SetFramework("torch:"+config))
	return r
}

func arange(n int) []float64 {
	values := make([]float64, n)
	for ii := range values {
		values[ii] = float64(ii)
	}
	return values
}

func toList(t *testing.T, r *framework.Registry, x any) []float64 {
	array, ok := x.(backends.Array)
	require.Truef(t, ok, "expected an array, got %T", x)
	values, err := r.ToList(array)
	require.NoError(t, err)
	return values
}

func TestSplitSizes(t *testing.T) {
	sizes, err := SplitSizes(7, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 2}, sizes)

	_, err = SplitSizes(2, 3)
	assert.True(t, errdefs.IsConfiguration(err))

	sizes, err = WithSizes([]string{"gpu:0", "gpu:1"}, map[string]int{"gpu:0": 1, "gpu:1": 4}).Resolve(5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, sizes)

	_, err = WithSizes([]string{"gpu:0", "gpu:1"}, map[string]int{"gpu:0": 5}).Resolve(5)
	assert.True(t, errdefs.IsConfiguration(err), "zero-sized chunks are rejected")

	_, err = OnDevices("gpu:0", "gpu:0").Resolve(4)
	assert.True(t, errdefs.IsConfiguration(err), "repeated devices are rejected")
}

func TestDistUnifyInverse(t *testing.T) {
	testCases := []struct {
		name    string
		length  int
		devices []string
		sizes   []int
	}{
		{"divisible", 6, []string{"gpu:0", "gpu:1"}, []int{3, 3}},
		{"with remainder", 7, []string{"cpu", "gpu:0", "gpu:1"}, []int{3, 2, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRegistry(t, "gpus=2")
			x, err := r.Array(arange(tc.length), "float32", "cpu")
			require.NoError(t, err)

			item, err := DistArray(r, x, OnDevices(tc.devices...), 0)
			require.NoError(t, err)
			assert.Equal(t, Distributed, item.Kind())
			assert.Equal(t, tc.devices, item.Devices())
			for ii, dev := range tc.devices {
				part, found := item.AtDev(dev)
				require.True(t, found)
				array := part.(backends.Array)
				assert.Equal(t, dev, array.Device())
				assert.Equal(t, tc.sizes[ii], array.Shape().Dimensions[0])
			}
			shape, err := item.Shape()
			require.NoError(t, err)
			assert.Equal(t, []int{tc.length}, shape.Dimensions)

			unified, err := UnifyArray(r, item, "gpu:1", Concat, 0)
			require.NoError(t, err)
			assert.Equal(t, "gpu:1", unified.Device())
			assert.Equal(t, arange(tc.length), toList(t, r, unified))
		})
	}

	r := newRegistry(t, "gpus=2")
	x, err := r.Array(arange(2), "float32", "cpu")
	require.NoError(t, err)
	_, err = DistArray(r, x, OnDevices("cpu", "gpu:0", "gpu:1"), 0)
	assert.True(t, errdefs.IsConfiguration(err), "more devices than elements")
}

func TestDistAxis(t *testing.T) {
	r := newRegistry(t, "gpus=2")
	x, err := r.ArrayWithShape(arange(8), []int{2, 4}, "float32", "cpu")
	require.NoError(t, err)
	item, err := DistArray(r, x, OnDevices("gpu:0", "gpu:1"), -1)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Axis())
	assert.Equal(t, []float64{0, 1, 4, 5}, toList(t, r, item.At(0)))
	assert.Equal(t, []float64{2, 3, 6, 7}, toList(t, r, item.At(1)))

	unified, err := Unify(r, item, "cpu", Concat, 1)
	require.NoError(t, err)
	assert.Equal(t, arange(8), toList(t, r, unified))
}

func TestCloneFanOut(t *testing.T) {
	r := newRegistry(t, "gpus=2")
	x, err := r.Array([]float64{1, 2, 3}, "float32", "cpu")
	require.NoError(t, err)
	x, err = r.Variable(x)
	require.NoError(t, err)
	require.True(t, x.(backends.GradientTracker).RequiresGrad())

	devices := []string{"cpu", "gpu:0", "gpu:1"}
	item, err := CloneArray(r, x, devices)
	require.NoError(t, err)
	assert.Equal(t, Cloned, item.Kind())
	require.Equal(t, 3, item.Len())
	for ii, dev := range devices {
		clone := item.At(ii).(backends.Array)
		assert.Equal(t, dev, clone.Device())
		assert.True(t, clone.Shape().Equal(x.Shape()))
		assert.False(t, clone.(backends.GradientTracker).RequiresGrad())
		assert.Equal(t, []float64{1, 2, 3}, toList(t, r, clone))
	}
	shape, err := item.Shape()
	require.NoError(t, err)
	assert.True(t, shape.Equal(x.Shape()))

	sum, err := UnifyArray(r, item, "cpu", Sum, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6, 9}, toList(t, r, sum))
	mean, err := UnifyArray(r, item, "cpu", Mean, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, toList(t, r, mean))
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"concat", "sum", "mean"} {
		mode, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, mode.String())
	}
	_, err := ParseMode("max")
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestNest(t *testing.T) {
	r := newRegistry(t, "gpus=2")
	x, err := r.Array(arange(4), "float32", "cpu")
	require.NoError(t, err)
	devices := []string{"gpu:0", "gpu:1"}

	nest, err := DistNest(r, []any{x, "label"}, map[string]any{"nested": []any{x, 3}}, OnDevices(devices...), 0, DefaultMaxDepth)
	require.NoError(t, err)
	assert.Equal(t, Distributed, nest.Kind())

	perDev := nest.AtDevs()
	require.Len(t, perDev, 2)
	args := perDev["gpu:1"]
	assert.Equal(t, []float64{2, 3}, toList(t, r, args.Args[0]))
	assert.Equal(t, "label", args.Args[1])
	nested := args.Kwargs["nested"].([]any)
	assert.Equal(t, []float64{2, 3}, toList(t, r, nested[0]))
	assert.Equal(t, 3, nested[1])

	unified, err := UnifyNest(r, []any{nest.At(0), nest.At(1)}, nil, "cpu", Concat, 0, DefaultMaxDepth)
	require.NoError(t, err)
	assert.Equal(t, arange(4), toList(t, r, unified.Args[0]))
	assert.Equal(t, "label", unified.Args[1])

	// With a max depth of 0 the nested list is a leaf, passed through unchanged.
	shallow, err := CloneNest(r, nil, map[string]any{"nested": []any{x}}, devices, 0)
	require.NoError(t, err)
	assert.Same(t, x, Select(shallow, "gpu:0").(Args).Kwargs["nested"].([]any)[0])
	deep, err := CloneNest(r, nil, map[string]any{"nested": []any{x}}, devices, 1)
	require.NoError(t, err)
	cloned := deep.AtDev("gpu:1").Kwargs["nested"].([]any)[0].(backends.Array)
	assert.Equal(t, "gpu:1", cloned.Device())
}

func TestIter(t *testing.T) {
	r := newRegistry(t, "gpus=2")
	x, err := r.Array(arange(4), "float32", "cpu")
	require.NoError(t, err)
	devices := []string{"gpu:0", "gpu:1"}

	iter, err := DistIter(r, []any{x, 1.5}, OnDevices(devices...), 0)
	require.NoError(t, err)
	require.Equal(t, 2, iter.Len())
	gpu0 := iter.AtDev("gpu:0")
	assert.Equal(t, []float64{0, 1}, toList(t, r, gpu0[0]))
	assert.Equal(t, 1.5, gpu0[1])

	unified, err := UnifyIter(r, iter, "cpu", Concat, 0, false)
	require.NoError(t, err)
	assert.Equal(t, arange(4), toList(t, r, unified[0]))
	assert.Equal(t, 1.5, unified[1])

	clones, err := CloneIter(r, []any{x}, devices)
	require.NoError(t, err)
	assert.Equal(t, Cloned, clones.Kind())
	assert.Len(t, clones.AtDevs(), 2)

	// Transposed: each device returned two outputs.
	a0, _ := r.Array([]float64{1}, "float32", "gpu:0")
	b0, _ := r.Array([]float64{10}, "float32", "gpu:0")
	a1, _ := r.Array([]float64{2}, "float32", "gpu:1")
	b1, _ := r.Array([]float64{20}, "float32", "gpu:1")
	outputs, err := NewItem(Distributed, devices, []any{[]any{a0, b0}, []any{a1, b1}}, 0)
	require.NoError(t, err)
	sums, err := UnifyIter(r, outputs, "cpu", Sum, 0, true)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, []float64{3}, toList(t, r, sums[0]))
	assert.Equal(t, []float64{30}, toList(t, r, sums[1]))

	_, err = UnifyIter(r, iter, "cpu", Concat, 0, true)
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestContainer(t *testing.T) {
	r := newRegistry(t, "gpus=2")
	w, err := r.Array(arange(4), "float32", "cpu")
	require.NoError(t, err)
	b, err := r.Array([]float64{1, 1}, "float32", "cpu")
	require.NoError(t, err)
	params := NewContainer().
		Set("w", w).
		Set("inner", NewContainer().Set("b", b)).
		Set("name", "layer0")
	assert.Equal(t, []string{"w", "inner", "name"}, params.Keys())

	devices := []string{"gpu:0", "gpu:1"}
	item, err := Dist(r, params, OnDevices(devices...), 0)
	require.NoError(t, err)
	distributed := item.(*Item)
	gpu1 := distributed.At(1).(*Container)
	v, _ := gpu1.Get("w")
	assert.Equal(t, []float64{2, 3}, toList(t, r, v))
	inner, _ := gpu1.Get("inner")
	v, _ = inner.(*Container).Get("b")
	assert.Equal(t, []float64{1}, toList(t, r, v))
	name, _ := gpu1.Get("name")
	assert.Equal(t, "layer0", name)

	unified, err := Unify(r, distributed, "cpu", Concat, 0)
	require.NoError(t, err)
	restored := unified.(*Container)
	v, _ = restored.Get("w")
	assert.Equal(t, arange(4), toList(t, r, v))
	inner, _ = restored.Get("inner")
	v, _ = inner.(*Container).Get("b")
	assert.Equal(t, []float64{1, 1}, toList(t, r, v))

	cloned, err := Clone(r, params, devices)
	require.NoError(t, err)
	mean, err := Unify(r, cloned.(*Item), "cpu", Mean, 0)
	require.NoError(t, err)
	v, _ = mean.(*Container).Get("w")
	assert.Equal(t, arange(4), toList(t, r, v))

	// Framework inference sees arrays inside items and containers.
	r2 := framework.New()
	backend, err := r2.CurrentFramework(distributed)
	require.NoError(t, err)
	assert.Equal(t, backends.Torch, backend.Name())
}

func TestSplitter(t *testing.T) {
	r := framework.New()
	require.NoError(t, r.SetFramework(backends.NumPy))
	x, err := r.Array(arange(5), "float32", "cpu")
	require.NoError(t, err)

	var chunkLens []int
	double := func(inputs []backends.Array) ([]backends.Array, error) {
		chunkLens = append(chunkLens, inputs[0].Shape().Dimensions[0])
		y, err := r.Multiply(inputs[0], 2.0)
		if err != nil {
			return nil, err
		}
		return []backends.Array{y}, nil
	}

	s := NewSplitter(r)
	outputs, err := s.Call(double, []backends.Array{x}, Concat, SplitOptions{ChunkSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, chunkLens)
	assert.Equal(t, []float64{0, 2, 4, 6, 8}, toList(t, r, outputs[0]))

	// Split factor 0 (the default) means chunks of size 1.
	chunkLens = nil
	sumFn := func(inputs []backends.Array) ([]backends.Array, error) {
		chunkLens = append(chunkLens, inputs[0].Shape().Dimensions[0])
		y, err := r.ReduceSum(inputs[0], nil, false)
		if err != nil {
			return nil, err
		}
		return []backends.Array{y}, nil
	}
	outputs, err = s.Call(sumFn, []backends.Array{x}, Sum, SplitOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1, 1}, chunkLens)
	assert.Equal(t, []float64{10}, toList(t, r, outputs[0]))

	// Split factor 1 runs the function once.
	require.NoError(t, r.SetSplitFactor("cpu", 1))
	chunkLens = nil
	outputs, err = s.Call(sumFn, []backends.Array{x}, Mean, SplitOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, chunkLens)
	assert.Equal(t, []float64{10}, toList(t, r, outputs[0]))

	// Split factor 0.5: chunks of 1+round(4*0.5)=3.
	require.NoError(t, r.SetSplitFactor("cpu", 0.5))
	chunkLens = nil
	outputs, err = s.Call(sumFn, []backends.Array{x}, Mean, SplitOptions{Device: "cpu"})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, chunkLens)
	assert.Equal(t, []float64{5}, toList(t, r, outputs[0]))
}
