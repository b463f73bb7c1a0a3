// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multidev

import (
	"math"
	"slices"
	"strings"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ChunkFn is a function called on chunks of its inputs by Splitter.Call.
type ChunkFn func(inputs []backends.Array) ([]backends.Array, error)

// SplitOptions configure Splitter.Call.
type SplitOptions struct {
	// ChunkSize, if > 0, is used as is, ignoring the split factor.
	ChunkSize int

	// MaxChunkSize, if > 0, is scaled by the split factor of the device to get the chunk size. If 0, the
	// largest split axis dimension seen so far for inputs of the same shapes is used.
	MaxChunkSize int

	// InputAxes along which each input is split. Defaults to 0 for every input.
	InputAxes []int

	// OutputAxes along which each output is concatenated in Concat mode. Defaults to the first input axis.
	OutputAxes []int

	// StopGradients detaches every chunk output from gradients.
	StopGradients bool

	// Device whose split factor is used. Defaults to the default device.
	Device string
}

// Splitter calls functions on chunks of their inputs, to bound the memory used on a device. The size of the
// chunks is controlled by the device split factor.
//
// It is not safe for concurrent use.
type Splitter struct {
	ops           Ops
	maxChunkSizes map[string]int
}

// NewSplitter returns a Splitter using ops.
func NewSplitter(ops Ops) *Splitter {
	return &Splitter{ops: ops, maxChunkSizes: make(map[string]int)}
}

func shapesKey(inputs []backends.Array) string {
	parts := make([]string, len(inputs))
	for ii, x := range inputs {
		parts[ii] = x.Shape().String()
	}
	return strings.Join(parts, "_")
}

// chunkSize returns the size of the chunks along the split axis.
func (s *Splitter) chunkSize(inputs []backends.Array, axes []int, opts SplitOptions) (int, error) {
	if opts.ChunkSize > 0 {
		return opts.ChunkSize, nil
	}
	maxChunkSize := opts.MaxChunkSize
	if maxChunkSize <= 0 {
		key := shapesKey(inputs)
		maxChunkSize = s.maxChunkSizes[key]
		for ii, x := range inputs {
			maxChunkSize = max(maxChunkSize, x.Shape().Dimensions[axes[ii]])
		}
		s.maxChunkSizes[key] = maxChunkSize
	}
	dev, err := s.ops.DefaultDevice(opts.Device)
	if err != nil {
		return 0, err
	}
	return 1 + int(math.Round(float64(maxChunkSize-1)*s.ops.SplitFactor(dev))), nil
}

// Call fn with the inputs split in chunks along their input axes, and unify the chunk outputs with mode.
// If the chunk size covers the whole dimension, fn is called once with the unsplit inputs.
//
// In Mean mode the sum of the chunk outputs is divided by the number of chunks.
func (s *Splitter) Call(fn ChunkFn, inputs []backends.Array, mode Mode, opts SplitOptions) ([]backends.Array, error) {
	if len(inputs) == 0 {
		return nil, errdefs.Configurationf("split call requires at least one input")
	}
	axes := slices.Clone(opts.InputAxes)
	if axes == nil {
		axes = make([]int, len(inputs))
	}
	if len(axes) != len(inputs) {
		return nil, errdefs.Configurationf("%d input axes given for %d inputs", len(axes), len(inputs))
	}
	for ii, x := range inputs {
		axis, err := x.Shape().AdjustAxis(axes[ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "input #%d", ii)
		}
		axes[ii] = axis
	}
	chunkSize, err := s.chunkSize(inputs, axes, opts)
	if err != nil {
		return nil, err
	}
	dim := inputs[0].Shape().Dimensions[axes[0]]
	if chunkSize >= dim {
		return fn(inputs)
	}
	numChunks := dim / chunkSize
	chunkSizes := make([]int, numChunks, numChunks+1)
	for ii := range chunkSizes {
		chunkSizes[ii] = chunkSize
	}
	if rem := dim - chunkSize*numChunks; rem > 0 {
		chunkSizes = append(chunkSizes, rem)
	}
	klog.V(3).Infof("split call: dimension %d in %d chunks of up to %d", dim, len(chunkSizes), chunkSize)

	splitInputs := make([][]backends.Array, len(inputs))
	for ii, x := range inputs {
		splitInputs[ii], err = s.ops.Split(x, axes[ii], chunkSizes, true)
		if err != nil {
			return nil, errors.WithMessagef(err, "splitting input #%d", ii)
		}
	}
	var chunkOutputs [][]backends.Array
	for c := range chunkSizes {
		chunk := make([]backends.Array, len(inputs))
		for ii := range inputs {
			chunk[ii] = splitInputs[ii][c]
		}
		outputs, err := fn(chunk)
		if err != nil {
			return nil, errors.WithMessagef(err, "chunk #%d", c)
		}
		if c > 0 && len(outputs) != len(chunkOutputs[0]) {
			return nil, errdefs.Configurationf("chunk #%d returned %d outputs, chunk #0 returned %d", c, len(outputs), len(chunkOutputs[0]))
		}
		if opts.StopGradients {
			for ii, out := range outputs {
				outputs[ii], err = s.ops.StopGradient(out)
				if err != nil {
					return nil, err
				}
			}
		}
		chunkOutputs = append(chunkOutputs, outputs)
	}
	return s.unifyChunks(chunkOutputs, mode, axes[0], opts.OutputAxes)
}

func (s *Splitter) unifyChunks(chunkOutputs [][]backends.Array, mode Mode, inputAxis int, outputAxes []int) ([]backends.Array, error) {
	numOutputs := len(chunkOutputs[0])
	if outputAxes != nil && len(outputAxes) != numOutputs {
		return nil, errdefs.Configurationf("%d output axes given for %d outputs", len(outputAxes), numOutputs)
	}
	results := make([]backends.Array, numOutputs)
	for o := range numOutputs {
		parts := make([]backends.Array, len(chunkOutputs))
		for c, outputs := range chunkOutputs {
			parts[c] = outputs[o]
		}
		var err error
		switch mode {
		case Concat:
			axis := inputAxis
			if outputAxes != nil {
				axis = outputAxes[o]
			}
			results[o], err = s.ops.Concat(parts, axis)
		case Sum, Mean:
			total := parts[0]
			for _, p := range parts[1:] {
				total, err = s.ops.Add(total, p)
				if err != nil {
					return nil, err
				}
			}
			results[o] = total
			if mode == Mean {
				results[o], err = s.ops.DivideScalar(total, float64(len(parts)))
			}
		default:
			err = errdefs.Configurationf("invalid unify mode %s", mode)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "unifying output #%d", o)
		}
	}
	return results, nil
}
