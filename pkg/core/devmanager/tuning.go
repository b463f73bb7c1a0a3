// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devmanager

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/multiframe/pkg/support/sets"
)

// allocState is the state of the device allocation (DA) tuning. Slices are indexed by device.
//
// It is a value: stepAllocation returns a new state and never modifies its input.
type allocState struct {
	sizes  []int
	deltas []int // Last shift of each device.

	maxStep    int
	directions []int // Direction of each device when the step size was last reset, nil if not set.

	utilPerUnit []float64 // Running estimate of utilization percentage gained per unit of dimension.
	memPerUnit  []float64 // Running estimate of memory percentage gained per unit of dimension.
	prevUtils   []float64
	prevMems    []float64

	count, unitCount int
	started          bool
	observed         sets.Set[string]
	converged        bool
}

func newAllocState(sizes []int, dimSize int, cfg Config) allocState {
	n := len(sizes)
	s := allocState{
		sizes:       slices.Clone(sizes),
		deltas:      make([]int, n),
		maxStep:     max(int(math.Round(cfg.MaxDevDimStepRatio*float64(dimSize))), 1),
		utilPerUnit: make([]float64, n),
		memPerUnit:  make([]float64, n),
		observed:    sets.Make[string](),
	}
	for ii := range s.utilPerUnit {
		s.utilPerUnit[ii] = 1
	}
	return s
}

func (s allocState) clone() allocState {
	c := s
	c.sizes = slices.Clone(s.sizes)
	c.deltas = slices.Clone(s.deltas)
	c.directions = slices.Clone(s.directions)
	c.utilPerUnit = slices.Clone(s.utilPerUnit)
	c.memPerUnit = slices.Clone(s.memPerUnit)
	c.prevUtils = slices.Clone(s.prevUtils)
	c.prevMems = slices.Clone(s.prevMems)
	c.observed = s.observed.Clone()
	return c
}

// ascendingOrder returns the device indices sorted by increasing value, ties broken by device order.
func ascendingOrder(values []float64) []int {
	order := make([]int, len(values))
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case values[a] < values[b]:
			return -1
		case values[a] > values[b]:
			return 1
		}
		return 0
	})
	return order
}

// shift moves dimension units from the most utilized devices to the least utilized ones, pairing the
// i-th least utilized with the i-th most utilized. Each move is at least 1 and at most maxStep units,
// and a device is never shrunk to or below cfg.MinDevDimSize.
func (s *allocState) shift(order []int, wanted []int, cfg Config) {
	n := len(order)
	clear(s.deltas)
	for ii := range n / 2 {
		less, more := order[ii], order[n-1-ii]
		room := s.sizes[more] - cfg.MinDevDimSize
		if room <= 0 {
			continue
		}
		delta := max(min(wanted[less], room), 1)
		delta = min(delta, s.maxStep)
		s.sizes[less] += delta
		s.sizes[more] -= delta
		s.deltas[less] = delta
		s.deltas[more] = -delta
	}
}

// stepAllocation is one DA tuning step given the current utilization and memory percentages of each
// device. The first step probes by shifting one unit; later steps shift according to the running
// estimates of utilization and memory gained per unit of dimension, capped by the memory headroom.
//
// The maximum step halves whenever the utilization rank order of all devices flipped, and once it reaches
// 1 the allocation converges when a configuration repeats after cfg.MinUnitDevTuneSteps unit steps.
func stepAllocation(cfg Config, prev allocState, utils, mems []float64, dimSize int) allocState {
	s := prev.clone()
	if s.converged {
		return s
	}
	n := len(s.sizes)
	order := ascendingOrder(utils)
	if !s.started {
		ones := make([]int, n)
		for ii := range ones {
			ones[ii] = 1
		}
		s.shift(order, ones, cfg)
		s.prevUtils, s.prevMems = slices.Clone(utils), slices.Clone(mems)
		s.count = 1
		s.started = true
		return s
	}

	// Halve the maximum step when every device changed direction.
	if s.maxStep > 1 {
		directions := make([]int, n)
		for rank, dev := range order {
			if rank < n/2 {
				directions[dev] = 1
			} else {
				directions[dev] = -1
			}
		}
		if s.directions == nil {
			s.directions = directions
		} else {
			allFlipped := true
			for dev := range n {
				if directions[dev]*s.directions[dev] >= 0 {
					allFlipped = false
					break
				}
			}
			if allFlipped {
				s.directions = nil
				s.maxStep = max(int(math.Round(float64(s.maxStep)/2)), 1)
			}
		}
	}

	// Running estimates per unit of dimension.
	c := float64(s.count)
	for dev, delta := range s.deltas {
		if delta == 0 {
			continue
		}
		d := float64(delta)
		s.memPerUnit[dev] = ((c-1)*s.memPerUnit[dev] + (mems[dev]-s.prevMems[dev])/d) / c
		s.utilPerUnit[dev] = max(((c-1)*s.utilPerUnit[dev]+(utils[dev]-s.prevUtils[dev])/d)/c, cfg.MinUtilIncPerUnitDim)
	}

	highest := utils[order[n-1]]
	wanted := make([]int, n)
	for dev := range n {
		raw := int(math.Round((highest - utils[dev]) / s.utilPerUnit[dev]))
		permissible := int(math.Floor((100 - mems[dev]) / max(s.memPerUnit[dev], cfg.MinMemIncPerUnitDim) / cfg.SafetyFactor))
		wanted[dev] = min(raw, permissible, dimSize)
	}
	s.shift(order, wanted, cfg)
	s.prevUtils, s.prevMems = slices.Clone(utils), slices.Clone(mems)
	s.count++

	if s.maxStep == 1 {
		repeated := !s.observed.Add(fmt.Sprint(s.sizes))
		if repeated && s.unitCount >= cfg.MinUnitDevTuneSteps {
			s.converged = true
		}
		s.unitCount++
	}
	return s
}

// splitState is the state of the device split factor (DS) tuning, indexed by device.
type splitState struct {
	factors  []float64
	deltas   []float64
	memPerSF []float64 // Running estimate of memory percentage gained per unit of split factor.
	prevMems []float64

	count     int
	started   bool
	observed  sets.Set[string]
	converged bool
}

func newSplitState(n int, cfg Config) splitState {
	s := splitState{
		factors:  make([]float64, n),
		deltas:   make([]float64, n),
		memPerSF: make([]float64, n),
		observed: sets.Make[string](),
	}
	for ii := range s.factors {
		s.factors[ii] = cfg.StartingSplitFactor
	}
	return s
}

func (s splitState) clone() splitState {
	c := s
	c.factors = slices.Clone(s.factors)
	c.deltas = slices.Clone(s.deltas)
	c.memPerSF = slices.Clone(s.memPerSF)
	c.prevMems = slices.Clone(s.prevMems)
	c.observed = s.observed.Clone()
	return c
}

// shift increases the split factors by the wanted deltas, clipped to [0, cfg.MaxSplitFactorStepSize],
// and keeps them <= 1.
func (s *splitState) shift(wanted []float64, cfg Config) {
	for dev, delta := range wanted {
		delta = max(min(delta, cfg.MaxSplitFactorStepSize), 0)
		s.factors[dev] = min(s.factors[dev]+delta, 1)
		s.deltas[dev] = delta
	}
}

// key of the split factors rounded to cfg.SplitFactorResolution.
func (s *splitState) key(cfg Config) string {
	rounded := make([]int64, len(s.factors))
	for ii, f := range s.factors {
		rounded[ii] = int64(math.Round(f / cfg.SplitFactorResolution))
	}
	return fmt.Sprint(rounded)
}

// stepSplits is one DS tuning step given the current memory percentage of each device. The split factors
// grow while there is memory headroom, by at most cfg.MaxSplitFactorStepSize per step. They converge when
// allocReady, a configuration repeats, and at least cfg.MinSFTuneSteps steps were taken.
func stepSplits(cfg Config, prev splitState, mems []float64, allocReady bool) splitState {
	s := prev.clone()
	if s.converged {
		return s
	}
	n := len(s.factors)
	if !s.started {
		probe := make([]float64, n)
		for ii := range probe {
			probe[ii] = cfg.FirstSplitFactorStep
		}
		s.shift(probe, cfg)
		s.prevMems = slices.Clone(mems)
		s.count = 1
		s.started = true
		return s
	}

	c := float64(s.count)
	for dev, delta := range s.deltas {
		if delta == 0 {
			continue
		}
		s.memPerSF[dev] = ((c-1)*s.memPerSF[dev] + (mems[dev]-s.prevMems[dev])/delta) / c
	}
	wanted := make([]float64, n)
	for dev := range n {
		headroom := max(100/cfg.SafetyFactor-mems[dev], 0)
		wanted[dev] = headroom / max(s.memPerSF[dev], cfg.MinMemIncPerSplitFactor)
	}
	s.shift(wanted, cfg)
	s.prevMems = slices.Clone(mems)
	s.count++

	repeated := !s.observed.Add(s.key(cfg))
	if allocReady && repeated && s.count >= cfg.MinSFTuneSteps {
		s.converged = true
	}
	return s
}
