// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"maps"

	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// SplitFactors holds the per-device split factor: a scalar in [0, 1] used to scale the chunk sizes of
// operations split for memory safety on that device. Devices never set have a split factor of 0.
type SplitFactors struct {
	factors map[string]float64
}

// NewSplitFactors returns an empty store.
func NewSplitFactors() *SplitFactors {
	return &SplitFactors{factors: make(map[string]float64)}
}

// Get returns the split factor for dev.
func (sf *SplitFactors) Get(dev string) float64 {
	return sf.factors[dev]
}

// Set the split factor for dev. Negative factors or malformed devices are an ErrConfiguration.
func (sf *SplitFactors) Set(dev string, factor float64) error {
	if err := Validate(dev); err != nil {
		return err
	}
	if factor < 0 {
		return errdefs.Configurationf("split factor for %q must be >= 0, got %g", dev, factor)
	}
	sf.factors[dev] = factor
	return nil
}

// All returns a copy of all split factors set.
func (sf *SplitFactors) All() map[string]float64 {
	return maps.Clone(sf.factors)
}
