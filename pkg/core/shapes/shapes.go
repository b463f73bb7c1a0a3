// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dtype and dimensions of an array living on some backend.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of an array.
//   - Axis: the index of a dimension. Negative axes count from the end, so -1 is the last axis.
//   - Dimension: the size of an array along one of its axes.
//   - DType: the data type of the unit element, the enum from github.com/gomlx/gopjrt/dtypes.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// Shape of an array: its DType and its dimensions.
//
// Unlike shapes used to build computation graphs, dimensions of 0 are allowed: an empty split of an array
// is a valid (if useless) array.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions. It panics for negative dimensions.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with a negative dimension", s)
		}
	}
	return s
}

// Ok returns whether this is a valid Shape. A zero Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// AdjustAxis converts a possibly negative axis to its non-negative value, and checks it is in range.
func (s Shape) AdjustAxis(axis int) (int, error) {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		return 0, errdefs.Configurationf("axis %d out-of-bounds for shape %s", axis, s)
	}
	return adjusted, nil
}

// Dim returns the dimension of the given axis. axis can take negative numbers.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjusted, err := s.AdjustAxis(axis)
	if err != nil {
		exceptions.Panicf("Shape.Dim(%d): %v", axis, err)
	}
	return s.Dimensions[adjusted]
}

// Size returns the number of elements: the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes used to store an array of this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares only the dimensions, dtypes can differ.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// WithDim returns a copy of the shape with the dimension of axis (already adjusted) replaced.
func (s Shape) WithDim(axis, dim int) Shape {
	s2 := s.Clone()
	s2.Dimensions[axis] = dim
	return s2
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Strides returns, for an axis, the product of the dimensions before it (outer) and after it (inner).
// Row-major flat data of the shape can be viewed as [outer, dim(axis), inner].
func (s Shape) Strides(axis int) (outer, inner int) {
	outer, inner = 1, 1
	for i, d := range s.Dimensions {
		switch {
		case i < axis:
			outer *= d
		case i > axis:
			inner *= d
		}
	}
	return
}
