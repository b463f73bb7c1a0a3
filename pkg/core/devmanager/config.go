// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devmanager

import (
	"maps"
	"math"
	"slices"

	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/support/sets"
)

// Config of a Manager. All the tuning constants are empirical: they are exposed to be tuned, not because
// any particular value is required for correctness.
type Config struct {
	// Devices to distribute across, in order.
	Devices []string

	// InitialRatios of the dimension allocated to each device. If nil, the dimension is split evenly.
	InitialRatios map[string]float64

	// DimSize is the size of the dimension allocated across devices (e.g.: the batch size). It can be
	// set later with Manager.SetDimSize.
	DimSize int

	// SafetyFactor (>= 1) divides the memory headroom when deciding how much to grow a device.
	SafetyFactor float64

	// MinDevDimSize is the minimum allocation of a device that is shrinking.
	MinDevDimSize int

	// MaxDevDimStepRatio is the initial maximum allocation step, as a fraction of DimSize.
	MaxDevDimStepRatio float64

	// MinUnitDevTuneSteps is the number of allocation steps with unit step size required before the
	// allocation can converge.
	MinUnitDevTuneSteps int

	// MinSFTuneSteps is the number of split factor steps required before the split factors can converge.
	MinSFTuneSteps int

	// StartingSplitFactor of every device.
	StartingSplitFactor float64

	// MaxSplitFactorStepSize bounds each split factor step.
	MaxSplitFactorStepSize float64

	// FirstSplitFactorStep is the probe step of the first split factor tuning step.
	FirstSplitFactorStep float64

	// MinUtilIncPerUnitDim and MinMemIncPerUnitDim are the floors of the running estimates of utilization
	// and memory percentage gained per unit of dimension.
	MinUtilIncPerUnitDim, MinMemIncPerUnitDim float64

	// MinMemIncPerSplitFactor is the floor of the running estimate of memory percentage gained per unit of
	// split factor.
	MinMemIncPerSplitFactor float64

	// SplitFactorResolution is used to round split factors when checking for repeated configurations.
	SplitFactorResolution float64

	// TuneDevAlloc enables device allocation tuning. It requires a device mapper.
	TuneDevAlloc bool

	// TuneDevSplits enables split factor tuning.
	TuneDevSplits bool
}

// DefaultConfig returns the default configuration for the given devices.
func DefaultConfig(devices ...string) Config {
	return Config{
		Devices:                 slices.Clone(devices),
		SafetyFactor:            1.1,
		MinDevDimSize:           0,
		MaxDevDimStepRatio:      0.1,
		MinUnitDevTuneSteps:     10,
		MinSFTuneSteps:          10,
		StartingSplitFactor:     0,
		MaxSplitFactorStepSize:  0.05,
		FirstSplitFactorStep:    0.01,
		MinUtilIncPerUnitDim:    0.1,
		MinMemIncPerUnitDim:     0.1,
		MinMemIncPerSplitFactor: 1,
		SplitFactorResolution:   0.001,
		TuneDevAlloc:            true,
		TuneDevSplits:           true,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if len(c.Devices) == 0 {
		return errdefs.Configurationf("device manager requires at least one device")
	}
	for _, dev := range c.Devices {
		if _, err := device.Parse(dev); err != nil {
			return err
		}
	}
	if dev, found := sets.FirstRepeated(c.Devices); found {
		return errdefs.Configurationf("device %q listed more than once", dev)
	}
	if c.InitialRatios != nil {
		if !slices.Equal(slices.Sorted(maps.Keys(c.InitialRatios)), sets.Sorted(sets.MakeWith(c.Devices...))) {
			return errdefs.Configurationf("initial ratios %v don't match devices %v", c.InitialRatios, c.Devices)
		}
		total := 0.0
		for _, r := range c.InitialRatios {
			if r < 0 {
				return errdefs.Configurationf("negative initial ratio in %v", c.InitialRatios)
			}
			total += r
		}
		if math.Abs(total-1) > 1e-6 {
			return errdefs.Configurationf("initial ratios %v sum to %g, not 1", c.InitialRatios, total)
		}
	}
	switch {
	case c.SafetyFactor < 1:
		return errdefs.Configurationf("safety factor must be >= 1, got %g", c.SafetyFactor)
	case c.DimSize < 0:
		return errdefs.Configurationf("negative dimension size %d", c.DimSize)
	case c.MinDevDimSize < 0:
		return errdefs.Configurationf("negative minimum device dimension size %d", c.MinDevDimSize)
	case c.MaxDevDimStepRatio <= 0 || c.MaxDevDimStepRatio > 1:
		return errdefs.Configurationf("max device dimension step ratio must be in (0, 1], got %g", c.MaxDevDimStepRatio)
	case c.StartingSplitFactor < 0 || c.StartingSplitFactor > 1:
		return errdefs.Configurationf("starting split factor must be in [0, 1], got %g", c.StartingSplitFactor)
	case c.MaxSplitFactorStepSize <= 0:
		return errdefs.Configurationf("max split factor step size must be positive, got %g", c.MaxSplitFactorStepSize)
	case c.SplitFactorResolution <= 0:
		return errdefs.Configurationf("split factor resolution must be positive, got %g", c.SplitFactorResolution)
	case c.MinUtilIncPerUnitDim <= 0 || c.MinMemIncPerUnitDim <= 0 || c.MinMemIncPerSplitFactor <= 0:
		return errdefs.Configurationf("minimum increase estimates must be positive")
	}
	return nil
}

// ratios returns the initial ratio of each device, in device order.
func (c Config) ratios() []float64 {
	ratios := make([]float64, len(c.Devices))
	for ii, dev := range c.Devices {
		if c.InitialRatios != nil {
			ratios[ii] = c.InitialRatios[dev]
		} else {
			ratios[ii] = 1 / float64(len(c.Devices))
		}
	}
	return ratios
}
