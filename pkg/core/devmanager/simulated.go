// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devmanager

import (
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// TelemetryFn returns a simulated percentage for dev given its current allocation size and split factor.
type TelemetryFn func(dev string, size int, splitFactor float64) float64

// SimulatedMonitor is a device.Monitor whose telemetry is computed from the current state of a Manager.
// It is used in tests and demos, where there are no real devices to measure.
type SimulatedMonitor struct {
	util, mem TelemetryFn

	// TotalGB is the simulated total memory of every device.
	TotalGB float64

	manager *Manager
}

var _ device.Monitor = (*SimulatedMonitor)(nil)

// NewSimulatedMonitor creates a SimulatedMonitor with the given utilization and memory percentage models.
// It must be attached to a Manager before use.
func NewSimulatedMonitor(util, mem TelemetryFn) *SimulatedMonitor {
	return &SimulatedMonitor{util: util, mem: mem, TotalGB: 16}
}

// Attach the monitor to the manager whose state drives the telemetry.
func (s *SimulatedMonitor) Attach(m *Manager) { s.manager = m }

func (s *SimulatedMonitor) state(dev string) (size int, splitFactor float64, err error) {
	if s.manager == nil {
		return 0, 0, errdefs.Configurationf("simulated monitor is not attached to a manager")
	}
	if _, err := device.Parse(dev); err != nil {
		return 0, 0, err
	}
	splitFactor, found := s.manager.SplitFactors()[dev]
	if !found {
		return 0, 0, errdefs.Configurationf("device %q is not managed", dev)
	}
	return s.manager.Sizes()[dev], splitFactor, nil
}

func clampPercent(v float64) float64 { return min(max(v, 0), 100) }

// Util implements device.Monitor.
func (s *SimulatedMonitor) Util(dev string) (float64, error) {
	size, sf, err := s.state(dev)
	if err != nil {
		return 0, err
	}
	return clampPercent(s.util(dev, size, sf)), nil
}

// PercentUsedMem implements device.Monitor.
func (s *SimulatedMonitor) PercentUsedMem(dev string) (float64, error) {
	size, sf, err := s.state(dev)
	if err != nil {
		return 0, err
	}
	return clampPercent(s.mem(dev, size, sf)), nil
}

// TotalMem implements device.Monitor.
func (s *SimulatedMonitor) TotalMem(dev string) (float64, error) {
	if _, _, err := s.state(dev); err != nil {
		return 0, err
	}
	return s.TotalGB, nil
}

// UsedMem implements device.Monitor.
func (s *SimulatedMonitor) UsedMem(dev string) (float64, error) {
	percent, err := s.PercentUsedMem(dev)
	if err != nil {
		return 0, err
	}
	return percent / 100 * s.TotalGB, nil
}
