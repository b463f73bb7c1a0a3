// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/devmanager"
	"github.com/gomlx/multiframe/pkg/core/devmapper"
	"github.com/gomlx/multiframe/pkg/core/framework"
	"github.com/gomlx/multiframe/pkg/core/multidev"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// partialSum is the mapped function: it sums the device's share of "x".
func partialSum(r *framework.Registry, _ string, kwargs map[string]any) (any, error) {
	x, ok := kwargs["x"].(backends.Array)
	if !ok {
		return nil, errors.Errorf("expected an array for \"x\", got %T", kwargs["x"])
	}
	sum, err := r.ReduceSum(x, nil, false)
	if err != nil {
		return nil, err
	}
	values, err := r.ToList(sum)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// tune runs the device manager over two simulated GPUs, the first one *flagSlow times slower than the
// second, until the allocation and split factors converge.
func tune() {
	frameworkCfg := fmt.Sprintf("%s:gpus=2", backends.Torch)
	devices := []string{device.GPU(0), device.GPU(1)}
	if *flagSlow <= 0 {
		klog.Fatalf("-slowdown must be positive, got %g", *flagSlow)
	}

	mapperCfg := devmapper.DefaultConfig()
	mapperCfg.Framework = frameworkCfg
	mapperCfg.Devices = devices
	ctx := context.Background()
	mapper := must.M1(devmapper.New(ctx, mapperCfg, partialSum, func(results *multidev.Item) (any, error) {
		total := 0.0
		for _, v := range results.Values() {
			total += v.(float64)
		}
		return total, nil
	}))

	ops := framework.New()
	must.M(ops.SetFramework(frameworkCfg))

	// Utilization is proportional to the allocation weighted by the device slowness, and balances when the
	// first device gets 1/(1+slowdown) of the dimension. Memory grows with the allocation and split factor.
	dim := float64(*flagDim)
	slow := *flagSlow
	monitor := devmanager.NewSimulatedMonitor(
		func(dev string, size int, _ float64) float64 {
			if dev == devices[0] {
				return 100 * float64(size) * slow / (dim * (1 + slow) / 2)
			}
			return 100 * float64(size) / (dim * (1 + slow) / 2)
		},
		func(_ string, size int, splitFactor float64) float64 {
			return 10 + 40*float64(size)/dim + 50*splitFactor
		},
	)
	cfg := devmanager.DefaultConfig(devices...)
	cfg.DimSize = *flagDim
	manager := must.M1(devmanager.New(cfg, mapper, ops, monitor))
	defer func() { must.M(manager.Close()) }()
	monitor.Attach(manager)

	data := make([]float64, *flagDim)
	for ii := range data {
		data[ii] = 1
	}
	x := must.M1(ops.Array(data, "float32", device.CPU))

	bar := progressbar.NewOptions(*flagMaxSteps,
		progressbar.OptionSetDescription("tuning"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	steps := 0
	for ; steps < *flagMaxSteps && !manager.Tuned(); steps++ {
		total := must.M1(manager.Map(ctx, devmanager.MapArgs{ToDistribute: map[string]any{"x": x}}))
		if int(total.(float64)) != *flagDim {
			klog.Fatalf("step %d: distributed sum is %v, expected %d", steps, total, *flagDim)
		}
		must.M(bar.Add(1))
	}
	_ = bar.Finish()
	fmt.Println()
	if !manager.Tuned() {
		klog.Warningf("tuning didn't converge after %d steps", steps)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Tuned after %d steps", steps)))
	table := newPlainTable(lipgloss.Left, lipgloss.Right)
	table.Headers("Device", "Size", "Ratio", "Split factor")
	sizes, ratios, factors := manager.Sizes(), manager.Ratios(), manager.SplitFactors()
	for _, dev := range devices {
		table.Row(dev, fmt.Sprint(sizes[dev]), fmt.Sprintf("%.3f", ratios[dev]), fmt.Sprintf("%.3f", factors[dev]))
	}
	fmt.Println(table.Render())
}
