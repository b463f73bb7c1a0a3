// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devmanager

import (
	"context"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/gomlx/multiframe/backends"
	_ "github.com/gomlx/multiframe/backends/default"
	"github.com/gomlx/multiframe/pkg/core/devmapper"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/core/framework"
	"github.com/gomlx/multiframe/pkg/core/multidev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const torch2GPUs = "torch:gpus=2"

var devices = []string{"gpu:0", "gpu:1"}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig(devices...).Validate())
	testCases := []struct {
		name   string
		modify func(*Config)
	}{
		{"no devices", func(c *Config) { c.Devices = nil }},
		{"bad device", func(c *Config) { c.Devices = []string{"gpu0"} }},
		{"repeated device", func(c *Config) { c.Devices = []string{"cpu", "cpu"} }},
		{"safety factor", func(c *Config) { c.SafetyFactor = 0.9 }},
		{"ratios keys", func(c *Config) { c.InitialRatios = map[string]float64{"gpu:0": 1} }},
		{"ratios sum", func(c *Config) { c.InitialRatios = map[string]float64{"gpu:0": 0.5, "gpu:1": 0.6} }},
		{"step ratio", func(c *Config) { c.MaxDevDimStepRatio = 0 }},
		{"resolution", func(c *Config) { c.SplitFactorResolution = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig(devices...)
			tc.modify(&cfg)
			assert.True(t, errdefs.IsConfiguration(cfg.Validate()))
		})
	}
}

func sum(values []int) (total int) {
	for _, v := range values {
		total += v
	}
	return
}

func TestStepAllocationProperties(t *testing.T) {
	cfg := DefaultConfig("gpu:0", "gpu:1", "gpu:2")
	cfg.MinDevDimSize = 2
	rng := rand.New(rand.NewPCG(42, 7))
	dimSize := 60
	s := newAllocState([]int{20, 20, 20}, dimSize, cfg)
	lastMaxStep := s.maxStep
	for range 300 {
		utils := []float64{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}
		mems := []float64{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}
		before := s.clone()
		next := stepAllocation(cfg, s, utils, mems, dimSize)
		assert.Equal(t, before.sizes, s.sizes, "input state is not modified")
		assert.Equal(t, dimSize, sum(next.sizes), "allocation always covers the dimension")
		for dev, size := range next.sizes {
			if next.deltas[dev] < 0 {
				assert.GreaterOrEqual(t, size, cfg.MinDevDimSize)
			}
			assert.LessOrEqual(t, max(next.deltas[dev], -next.deltas[dev]), next.maxStep)
		}
		assert.LessOrEqual(t, next.maxStep, lastMaxStep, "max step never grows")
		lastMaxStep = next.maxStep
		s = next
	}
}

func TestStepAllocationFirstAndOOM(t *testing.T) {
	cfg := DefaultConfig(devices...)
	s := newAllocState([]int{50, 50}, 100, cfg)
	assert.Equal(t, 10, s.maxStep)

	// First step probes with one unit towards the least utilized device.
	s = stepAllocation(cfg, s, []float64{80, 20}, []float64{30, 30}, 100)
	assert.Equal(t, []int{49, 51}, s.sizes)
	assert.Equal(t, []int{-1, 1}, s.deltas)

	// Out of memory: no headroom, so only the minimal unit shift happens.
	s = stepAllocation(cfg, s, []float64{78, 20}, []float64{100, 100}, 100)
	assert.Equal(t, []int{48, 52}, s.sizes)

	// Without memory pressure the shift is bounded by the max step.
	s = stepAllocation(cfg, s, []float64{77, 21}, []float64{30, 30}, 100)
	assert.Equal(t, []int{38, 62}, s.sizes)
}

func TestStepSplits(t *testing.T) {
	cfg := DefaultConfig(devices...)
	s := newSplitState(2, cfg)
	s = stepSplits(cfg, s, []float64{10, 10}, true)
	assert.Equal(t, []float64{0.01, 0.01}, s.factors)

	// Device 1 has no headroom: it doesn't grow.
	s = stepSplits(cfg, s, []float64{10, 95}, true)
	assert.InDelta(t, 0.06, s.factors[0], 1e-9)
	assert.InDelta(t, 0.01, s.factors[1], 1e-9)

	for range 50 {
		prev := slices.Clone(s.factors)
		s = stepSplits(cfg, s, []float64{10, 95}, true)
		for dev, f := range s.factors {
			assert.GreaterOrEqual(t, f, prev[dev])
			assert.LessOrEqual(t, f, 1.0)
			assert.LessOrEqual(t, f-prev[dev], cfg.MaxSplitFactorStepSize+1e-9)
		}
	}
	assert.True(t, s.converged)
	assert.Equal(t, 1.0, s.factors[0])

	// Not converged while the allocation isn't ready.
	s2 := newSplitState(1, cfg)
	for range 50 {
		s2 = stepSplits(cfg, s2, []float64{95}, false)
	}
	assert.False(t, s2.converged)
}

func newMapper(t *testing.T, fn devmapper.Fn) *devmapper.Mapper {
	cfg := devmapper.DefaultConfig()
	cfg.Framework = torch2GPUs
	cfg.Devices = devices
	cfg.Timeout = 5 * time.Second
	cfg.PollInterval = 10 * time.Millisecond
	m, err := devmapper.New(context.Background(), cfg, fn, nil)
	require.NoError(t, err)
	return m
}

func newOps(t *testing.T) *framework.Registry {
	r := framework.New()
	require.NoError(t, r.SetFramework(torch2GPUs))
	return r
}

// skewedMonitor simulates gpu:0 being 4 times slower than gpu:1: utilization starts 80/20 with an even
// allocation, and balances when gpu:0 gets 20% of the dimension.
func skewedMonitor() *SimulatedMonitor {
	return NewSimulatedMonitor(
		func(dev string, size int, _ float64) float64 {
			if dev == "gpu:0" {
				return float64(size) * 8 / 5
			}
			return float64(size) * 2 / 5
		},
		func(_ string, size int, _ float64) float64 { return 10 + 0.5*float64(size) },
	)
}

func TestAllocationConvergence(t *testing.T) {
	mapper := newMapper(t, func(_ *framework.Registry, dev string, _ map[string]any) (any, error) { return dev, nil })
	monitor := skewedMonitor()
	cfg := DefaultConfig(devices...)
	cfg.DimSize = 100
	m, err := New(cfg, mapper, newOps(t), monitor)
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Close()) }()
	monitor.Attach(m)

	assert.Equal(t, map[string]int{"gpu:0": 50, "gpu:1": 50}, m.Sizes())
	steps := 0
	for ; steps < 200 && !m.Tuned(); steps++ {
		require.NoError(t, m.TuneStep(false))
	}
	require.True(t, m.Tuned(), "not tuned after %d steps: sizes=%v", steps, m.Sizes())
	ratios := m.Ratios()
	assert.InDelta(t, 0.2, ratios["gpu:0"], 0.05)
	assert.InDelta(t, 0.8, ratios["gpu:1"], 0.05)
	assert.Equal(t, 100, m.Sizes()["gpu:0"]+m.Sizes()["gpu:1"])
	for _, f := range m.SplitFactors() {
		assert.Greater(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}

	// Once tuned, steps are no-ops.
	sizes := m.Sizes()
	require.NoError(t, m.TuneStep(true))
	assert.Equal(t, sizes, m.Sizes())
}

func TestSplitsOnlyWithoutMapper(t *testing.T) {
	ops := newOps(t)
	monitor := NewSimulatedMonitor(
		func(string, int, float64) float64 { return 50 },
		func(_ string, _ int, sf float64) float64 { return 20 + 100*sf },
	)
	cfg := DefaultConfig(devices...)
	cfg.StartingSplitFactor = 0.1
	m, err := New(cfg, nil, ops, monitor)
	require.NoError(t, err)
	monitor.Attach(m)
	assert.Equal(t, 0.1, ops.SplitFactor("gpu:1"), "starting split factor set on the registry")

	for range 100 {
		require.NoError(t, m.TuneStep(false))
	}
	assert.True(t, m.Tuned())
	for _, dev := range devices {
		f := m.SplitFactors()[dev]
		assert.Equal(t, f, ops.SplitFactor(dev))
		// Memory settles at 100/SafetyFactor (~90.9%).
		assert.InDelta(t, 100/cfg.SafetyFactor, 20+100*f, 0.5)
	}
	_, err = m.Map(context.Background(), MapArgs{})
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestMap(t *testing.T) {
	mapper := newMapper(t, func(r *framework.Registry, dev string, kwargs map[string]any) (any, error) {
		x := kwargs["x"].(backends.Array)
		w := kwargs["w"].(backends.Array)
		return []any{x.Shape().Dimensions[0], w.Device(), r.SplitFactor(dev)}, nil
	})
	monitor := skewedMonitor()
	cfg := DefaultConfig(devices...)
	cfg.DimSize = 10
	cfg.InitialRatios = map[string]float64{"gpu:0": 0.3, "gpu:1": 0.7}
	ops := newOps(t)
	m, err := New(cfg, mapper, ops, monitor)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	monitor.Attach(m)

	x, err := ops.Array(make([]float64, 10), "float32", "cpu")
	require.NoError(t, err)
	w, err := ops.Array([]float64{1, 2}, "float32", "cpu")
	require.NoError(t, err)

	for step := range 5 {
		sizes, factors := m.Sizes(), m.SplitFactors()
		out, err := m.Map(context.Background(), MapArgs{
			ToDistribute: map[string]any{"x": x},
			ToClone:      map[string]any{"w": w},
		})
		require.NoError(t, err)
		results := out.(*multidev.Item)
		for ii, dev := range results.Devices() {
			values := results.At(ii).([]any)
			assert.Equal(t, sizes[dev], values[0], "step %d", step)
			assert.Equal(t, dev, values[1])
			assert.Equal(t, factors[dev], values[2])
		}
	}

	oom := newMapper(t, func(*framework.Registry, string, map[string]any) (any, error) {
		return nil, errdefs.ErrOutOfMemory
	})
	cfg.DimSize = 10
	m2, err := New(cfg, oom, ops, monitor)
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()
	monitor.Attach(m2)
	_, err = m2.Map(context.Background(), MapArgs{})
	assert.True(t, errdefs.IsOutOfMemory(err))
	assert.Equal(t, map[string]int{"gpu:0": 2, "gpu:1": 8}, m2.Sizes(), "first tuning step ran")
}

func TestMapBeforeDimSize(t *testing.T) {
	mapper := newMapper(t, func(_ *framework.Registry, dev string, kwargs map[string]any) (any, error) {
		return kwargs["w"].(backends.Array).Device() == dev, nil
	})
	monitor := skewedMonitor()
	ops := newOps(t)
	m, err := New(DefaultConfig(devices...), mapper, ops, monitor)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	monitor.Attach(m)
	assert.Nil(t, m.Sizes())

	w, err := ops.Array([]float64{1, 2}, "float32", "cpu")
	require.NoError(t, err)
	for range 5 {
		out, err := m.Map(context.Background(), MapArgs{ToClone: map[string]any{"w": w}})
		require.NoError(t, err)
		results := out.(*multidev.Item)
		assert.Equal(t, devices, results.Devices())
		assert.Equal(t, []any{true, true}, results.Values())
	}
	// Split factors are tuned meanwhile, but tuning can't complete without the allocation.
	assert.Greater(t, m.SplitFactors()["gpu:0"], 0.0)
	assert.False(t, m.Tuned())

	require.NoError(t, m.SetDimSize(10))
	_, err = m.Map(context.Background(), MapArgs{ToClone: map[string]any{"w": w}})
	require.NoError(t, err)
	assert.Equal(t, 10, m.Sizes()["gpu:0"]+m.Sizes()["gpu:1"])
	assert.NotEqual(t, map[string]int{"gpu:0": 5, "gpu:1": 5}, m.Sizes(), "allocation tuning started")
}
