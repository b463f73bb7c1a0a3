// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"

	"github.com/gomlx/multiframe/pkg/core/shapes"
)

// Array is the view the framework core has of a backend array.
type Array interface {
	// Framework returns the name of the backend that created the array. It is the runtime type tag used to
	// infer the backend from arguments when no framework is active.
	Framework() string

	// Shape of the array.
	Shape() shapes.Shape

	// Device returns the canonical device string where the array is stored.
	Device() string
}

// SpecCarrier is implemented by arrays that carry a Spec.
type SpecCarrier interface {
	ArraySpec() *Spec
	SetArraySpec(spec *Spec)
}

// GradientTracker is implemented by arrays of backends with automatic differentiation.
type GradientTracker interface {
	RequiresGrad() bool
}

// Spec is auxiliary metadata describing how an array was constructed, used for downstream graph capture.
// It is copied from inputs to outputs of equal shape by the function wrapper.
type Spec struct {
	// Op is the name of the operation that created the array.
	Op string

	// Attributes of the construction, free-form.
	Attributes map[string]any
}

// Clone returns a copy of the Spec. The attribute values themselves are not cloned.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	return &Spec{Op: s.Op, Attributes: maps.Clone(s.Attributes)}
}

// IsArray returns whether x implements Array.
func IsArray(x any) bool {
	_, ok := x.(Array)
	return ok
}

// Composite is implemented by containers of values (e.g.: values distributed across devices) so their
// contents are visited when inferring the framework from the arguments of a call.
type Composite interface {
	Values() []any
}
