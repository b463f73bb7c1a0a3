// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devmanager tunes how work is spread across devices.
//
// A Manager tunes two independent axes: the device allocation (DA), the integer partition of a dimension
// (typically the batch) across devices, driven by device utilization; and the device splits (DS), a per
// device split factor in [0, 1] driven by device memory usage. When both are enabled tuning steps
// alternate between them.
//
// Tuning is a heuristic hill-climbing controller: it is driven by repeated calls (e.g.: one per training
// step) and stops changing the configuration once it converges. There is no timeout.
package devmanager

import (
	"context"
	"maps"
	"slices"

	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/devmapper"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/core/multidev"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Ops used by the Manager: the multi-device operations, plus setting the split factors when there is no
// device mapper to forward them to.
//
// *framework.Registry implements it.
type Ops interface {
	multidev.Ops
	SetSplitFactor(dev string, factor float64) error
}

// Manager distributes and clones arguments according to the tuned allocation, maps them through a device
// mapper, and tunes the allocation and split factors from device telemetry.
//
// It is not safe for concurrent use.
type Manager struct {
	cfg     Config
	mapper  *devmapper.Mapper
	ops     Ops
	monitor device.Monitor

	dimSize int
	alloc   allocState
	splits  splitState

	tuneDA, tuneDS bool
	nextIsDS       bool
	tuned          bool
}

// New creates a Manager. mapper may be nil, in which case allocation tuning is disabled and the split
// factors are set directly with ops.
func New(cfg Config, mapper *devmapper.Mapper, ops Ops, monitor device.Monitor) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ops == nil || monitor == nil {
		return nil, errdefs.Configurationf("device manager requires ops and a monitor")
	}
	cfg.Devices = slices.Clone(cfg.Devices)
	m := &Manager{
		cfg:     cfg,
		mapper:  mapper,
		ops:     ops,
		monitor: monitor,
		tuneDA:  cfg.TuneDevAlloc && mapper != nil,
		tuneDS:  cfg.TuneDevSplits,
		splits:  newSplitState(len(cfg.Devices), cfg),
	}
	m.nextIsDS = !m.tuneDA
	m.tuned = (!m.tuneDA || len(cfg.Devices) == 1) && !m.tuneDS
	if cfg.DimSize > 0 {
		if err := m.SetDimSize(cfg.DimSize); err != nil {
			return nil, err
		}
	}
	if m.tuneDS && mapper == nil {
		if err := m.applySplitFactors(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetDimSize sets the size of the allocated dimension, and resets the allocation to the configured
// initial ratios. Each device gets its ratio of dimSize rounded, and the rounding excess is corrected on
// the earliest devices.
func (m *Manager) SetDimSize(dimSize int) error {
	n := len(m.cfg.Devices)
	if dimSize < n {
		return errdefs.Configurationf("dimension size %d is smaller than the number of devices %d", dimSize, n)
	}
	ratios := m.cfg.ratios()
	sizes := make([]int, n)
	total := 0
	for ii, r := range ratios {
		sizes[ii] = int(r*float64(dimSize) + 0.5)
		total += sizes[ii]
	}
	for ii := 0; total != dimSize; ii = (ii + 1) % n {
		if total > dimSize && sizes[ii] > 0 {
			sizes[ii]--
			total--
		} else if total < dimSize {
			sizes[ii]++
			total++
		}
	}
	m.dimSize = dimSize
	m.alloc = newAllocState(sizes, dimSize, m.cfg)
	return nil
}

// DimSize returns the size of the allocated dimension, 0 if not set.
func (m *Manager) DimSize() int { return m.dimSize }

// Devices returns the managed devices, in order.
func (m *Manager) Devices() []string { return slices.Clone(m.cfg.Devices) }

// Tuned returns whether tuning converged.
func (m *Manager) Tuned() bool { return m.tuned }

// Sizes returns the allocation of each device. It is nil if the dimension size was not set.
func (m *Manager) Sizes() map[string]int {
	if m.dimSize == 0 {
		return nil
	}
	sizes := make(map[string]int, len(m.cfg.Devices))
	for ii, dev := range m.cfg.Devices {
		sizes[dev] = m.alloc.sizes[ii]
	}
	return sizes
}

// Ratios returns the fraction of the dimension allocated to each device.
func (m *Manager) Ratios() map[string]float64 {
	ratios := make(map[string]float64, len(m.cfg.Devices))
	if m.dimSize == 0 {
		for ii, r := range m.cfg.ratios() {
			ratios[m.cfg.Devices[ii]] = r
		}
		return ratios
	}
	for ii, dev := range m.cfg.Devices {
		ratios[dev] = float64(m.alloc.sizes[ii]) / float64(m.dimSize)
	}
	return ratios
}

// SplitFactors returns the current split factor of each device.
func (m *Manager) SplitFactors() map[string]float64 {
	factors := make(map[string]float64, len(m.cfg.Devices))
	for ii, dev := range m.cfg.Devices {
		factors[dev] = m.splits.factors[ii]
	}
	return factors
}

func (m *Manager) applySplitFactors() error {
	for dev, f := range m.SplitFactors() {
		if err := m.ops.SetSplitFactor(dev, f); err != nil {
			return err
		}
	}
	return nil
}

// telemetry reads the utilization (if withUtils) and memory percentages of every device. On oom the
// memory of every device is taken as saturated.
func (m *Manager) telemetry(withUtils, oom bool) (utils, mems []float64, err error) {
	n := len(m.cfg.Devices)
	mems = make([]float64, n)
	if withUtils {
		utils = make([]float64, n)
	}
	for ii, dev := range m.cfg.Devices {
		if withUtils {
			if utils[ii], err = m.monitor.Util(dev); err != nil {
				return nil, nil, errors.WithMessagef(err, "reading utilization of %q", dev)
			}
		}
		if oom {
			mems[ii] = 100
			continue
		}
		if mems[ii], err = m.monitor.PercentUsedMem(dev); err != nil {
			return nil, nil, errors.WithMessagef(err, "reading memory of %q", dev)
		}
	}
	return utils, mems, nil
}

// TuneStep runs one tuning step, alternating between allocation and split factor steps when both are
// enabled. oom signals the last call ran out of memory: the memory of all devices is then taken as 100%.
//
// It is a no-op once tuned.
func (m *Manager) TuneStep(oom bool) error {
	if m.tuned {
		return nil
	}
	daActive := m.tuneDA && !m.alloc.converged && len(m.cfg.Devices) > 1
	// Allocation steps wait for SetDimSize, and until then the allocation is not ready.
	daPending := daActive && m.dimSize == 0
	if daPending {
		klog.V(1).Infof("device allocation tuning skipped until the dimension size is set")
		daActive = false
	}
	dsActive := m.tuneDS && !m.splits.converged
	runDS := dsActive && (m.nextIsDS || !daActive)
	if runDS {
		allocReady := !daPending && (!daActive || m.alloc.maxStep == 1)
		if err := m.stepDS(oom, allocReady); err != nil {
			return err
		}
	} else if daActive {
		if err := m.stepDA(oom); err != nil {
			return err
		}
	}
	m.nextIsDS = !runDS
	daDone := !m.tuneDA || len(m.cfg.Devices) == 1 || m.alloc.converged
	dsDone := !m.tuneDS || m.splits.converged
	if daDone && dsDone {
		m.tuned = true
		klog.Infof("device tuning complete: sizes %v, split factors %v", m.Sizes(), m.SplitFactors())
	}
	return nil
}

func (m *Manager) stepDA(oom bool) error {
	utils, mems, err := m.telemetry(true, oom)
	if err != nil {
		return err
	}
	if !m.alloc.started {
		klog.Infof("tuning device allocation...")
	}
	m.alloc = stepAllocation(m.cfg, m.alloc, utils, mems, m.dimSize)
	if m.alloc.converged {
		klog.Infof("device allocation tuning complete: %v", m.Sizes())
	} else {
		klog.V(1).Infof("device allocation %v (max step %d, utils %v, mems %v), still tuning...",
			m.Sizes(), m.alloc.maxStep, utils, mems)
	}
	return nil
}

func (m *Manager) stepDS(oom, allocReady bool) error {
	_, mems, err := m.telemetry(false, oom)
	if err != nil {
		return err
	}
	if !m.splits.started {
		klog.Infof("tuning device splitting...")
	}
	m.splits = stepSplits(m.cfg, m.splits, mems, allocReady)
	if m.mapper == nil {
		if err := m.applySplitFactors(); err != nil {
			return err
		}
	}
	if m.splits.converged {
		klog.Infof("device splitting tuning complete: %v", m.SplitFactors())
	} else {
		klog.V(1).Infof("split factors %v (mems %v), still tuning...", m.SplitFactors(), mems)
	}
	return nil
}

// MapArgs are the keyword arguments of Manager.Map, grouped by how they are sent to the devices.
type MapArgs struct {
	// Cloned and Distributed are already multi-device values (or plain values passed as is).
	Cloned, Distributed map[string]any

	// ToClone are cloned to every used device.
	ToClone map[string]any

	// ToDistribute are distributed along their first axis according to the current allocation.
	ToDistribute map[string]any
}

// usedDevices returns the devices with a non-zero allocation, and the allocation of the used devices.
func (m *Manager) usedDevices() ([]string, multidev.Allocation) {
	if m.dimSize == 0 {
		return m.Devices(), multidev.OnDevices(m.cfg.Devices...)
	}
	var used []string
	sizes := make(map[string]int, len(m.cfg.Devices))
	for ii, dev := range m.cfg.Devices {
		if m.alloc.sizes[ii] > 0 {
			used = append(used, dev)
			sizes[dev] = m.alloc.sizes[ii]
		}
	}
	return used, multidev.WithSizes(used, sizes)
}

// Map clones and distributes the arguments according to the current allocation, runs them through the
// device mapper, and, unless tuned, runs one tuning step.
//
// If the mapped function fails with errdefs.ErrOutOfMemory, a tuning step is run with memory taken as
// saturated, and the error is returned.
func (m *Manager) Map(ctx context.Context, args MapArgs) (any, error) {
	if m.mapper == nil {
		return nil, errdefs.Configurationf("device manager has no device mapper")
	}
	used, alloc := m.usedDevices()
	kwargs := make(map[string]any)
	maps.Copy(kwargs, args.Cloned)
	maps.Copy(kwargs, args.Distributed)
	for key, v := range args.ToClone {
		cloned, err := multidev.Clone(m.ops, v, used)
		if err != nil {
			return nil, errors.WithMessagef(err, "cloning %q", key)
		}
		kwargs[key] = cloned
	}
	for key, v := range args.ToDistribute {
		distributed, err := multidev.Dist(m.ops, v, alloc, 0)
		if err != nil {
			return nil, errors.WithMessagef(err, "distributing %q", key)
		}
		kwargs[key] = distributed
	}
	var splitFactors map[string]float64
	if m.tuneDS {
		splitFactors = m.SplitFactors()
	}
	ret, err := m.mapper.Map(ctx, used, splitFactors, kwargs)
	if err != nil {
		if errdefs.IsOutOfMemory(err) {
			if tuneErr := m.TuneStep(true); tuneErr != nil {
				klog.Warningf("tuning step after out of memory failed: %v", tuneErr)
			}
		}
		return nil, err
	}
	if !m.tuned {
		if err := m.TuneStep(false); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Close closes the device mapper, if any.
func (m *Manager) Close() error {
	if m.mapper == nil {
		return nil
	}
	return m.mapper.Close()
}
