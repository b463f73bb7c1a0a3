// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes maps between canonical dtype identifiers (lower-case strings like "float32") and the
// github.com/gomlx/gopjrt/dtypes enum, and holds the per-backend tables translating canonical identifiers
// to/from each framework's native scalar-type representation.
//
// Everything here is pure lookup: a Table is immutable once built.
package dtypes

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// DType is the enum used for shapes, re-exported for convenience.
type DType = dtypes.DType

// Canonical identifiers, in the order they are listed by All.
const (
	Bool       = "bool"
	Int8       = "int8"
	Int16      = "int16"
	Int32      = "int32"
	Int64      = "int64"
	Uint8      = "uint8"
	Uint16     = "uint16"
	Uint32     = "uint32"
	Uint64     = "uint64"
	BFloat16   = "bfloat16"
	Float16    = "float16"
	Float32    = "float32"
	Float64    = "float64"
	Complex64  = "complex64"
	Complex128 = "complex128"
)

var canonicalOrder = []string{
	Bool, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64,
	BFloat16, Float16, Float32, Float64, Complex64, Complex128,
}

var canonicalToDType = map[string]dtypes.DType{
	Bool:       dtypes.Bool,
	Int8:       dtypes.Int8,
	Int16:      dtypes.Int16,
	Int32:      dtypes.Int32,
	Int64:      dtypes.Int64,
	Uint8:      dtypes.Uint8,
	Uint16:     dtypes.Uint16,
	Uint32:     dtypes.Uint32,
	Uint64:     dtypes.Uint64,
	BFloat16:   dtypes.BFloat16,
	Float16:    dtypes.Float16,
	Float32:    dtypes.Float32,
	Float64:    dtypes.Float64,
	Complex64:  dtypes.Complex64,
	Complex128: dtypes.Complex128,
}

var dtypeToCanonical = func() map[dtypes.DType]string {
	m := make(map[dtypes.DType]string, len(canonicalToDType))
	for name, dt := range canonicalToDType {
		m[dt] = name
	}
	return m
}()

// All returns every canonical identifier, in a fixed order.
func All() []string {
	return slices.Clone(canonicalOrder)
}

// IsValid returns whether name is a canonical dtype identifier.
func IsValid(name string) bool {
	_, found := canonicalToDType[name]
	return found
}

// Parse converts a canonical identifier to the DType enum.
func Parse(name string) (dtypes.DType, error) {
	dt, found := canonicalToDType[name]
	if !found {
		return dtypes.InvalidDType, errdefs.Configurationf("unknown dtype %q, valid dtypes are %v", name, canonicalOrder)
	}
	return dt, nil
}

// Canonical returns the canonical identifier of the DType.
func Canonical(dt dtypes.DType) (string, error) {
	name, found := dtypeToCanonical[dt]
	if !found {
		return "", errdefs.Configurationf("dtype %s has no canonical identifier", dt)
	}
	return name, nil
}

// IsFloat returns whether the canonical dtype is a floating point type.
func IsFloat(name string) bool {
	switch name {
	case BFloat16, Float16, Float32, Float64:
		return true
	}
	return false
}

// IsInteger returns whether the canonical dtype is a (signed or unsigned) integer type.
func IsInteger(name string) bool {
	switch name {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}
