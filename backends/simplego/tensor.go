// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"slices"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/shapes"
)

// Tensor is the array type of all simplego based backends.
type Tensor struct {
	framework    string
	shape        shapes.Shape
	device       string
	flat         []float64
	requiresGrad bool
	spec         *backends.Spec
}

var (
	_ backends.Array           = (*Tensor)(nil)
	_ backends.SpecCarrier     = (*Tensor)(nil)
	_ backends.GradientTracker = (*Tensor)(nil)
)

// NewTensor creates a tensor tagged with the given framework. It takes ownership of flat, which must have
// shape.Size() elements already rounded to the shape's dtype.
func NewTensor(framework string, shape shapes.Shape, dev string, flat []float64) *Tensor {
	if len(flat) != shape.Size() {
		panic(fmt.Sprintf("simplego.NewTensor: %d elements given for shape %s", len(flat), shape))
	}
	return &Tensor{framework: framework, shape: shape, device: dev, flat: flat}
}

// Framework implements backends.Array.
func (t *Tensor) Framework() string { return t.framework }

// Shape implements backends.Array.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Device implements backends.Array.
func (t *Tensor) Device() string { return t.device }

// Flat returns the underlying flat storage, in row-major order. It is not a copy.
func (t *Tensor) Flat() []float64 { return t.flat }

// RequiresGrad implements backends.GradientTracker.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// ArraySpec implements backends.SpecCarrier.
func (t *Tensor) ArraySpec() *backends.Spec { return t.spec }

// SetArraySpec implements backends.SpecCarrier.
func (t *Tensor) SetArraySpec(spec *backends.Spec) { t.spec = spec }

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t.shape.Size() <= 16 {
		return fmt.Sprintf("%s.Tensor(%s@%s: %v)", t.framework, t.shape, t.device, t.flat)
	}
	return fmt.Sprintf("%s.Tensor(%s@%s)", t.framework, t.shape, t.device)
}

// derive returns a new tensor of the same framework with the given contents.
func (t *Tensor) derive(shape shapes.Shape, dev string, flat []float64) *Tensor {
	return NewTensor(t.framework, shape, dev, flat)
}

// clone returns a detached copy of the tensor on the given device. The spec is not copied.
func (t *Tensor) clone(dev string) *Tensor {
	return t.derive(t.shape.Clone(), dev, slices.Clone(t.flat))
}
