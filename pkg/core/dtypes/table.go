// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// Table translates between canonical dtype identifiers and one framework's native representation.
type Table struct {
	framework  string
	toNative   map[string]string
	fromNative map[string]string
	order      []string
}

// NewTable builds the table for the given framework from a canonical->native mapping.
//
// It returns an ErrConfiguration if a key is not a canonical identifier or if two canonical identifiers
// map to the same native name.
func NewTable(framework string, canonicalToNative map[string]string) (*Table, error) {
	t := &Table{
		framework:  framework,
		toNative:   make(map[string]string, len(canonicalToNative)),
		fromNative: make(map[string]string, len(canonicalToNative)),
	}
	for canonical, native := range canonicalToNative {
		if !IsValid(canonical) {
			return nil, errdefs.Configurationf("%s dtype table: %q is not a canonical dtype", framework, canonical)
		}
		if other, found := t.fromNative[native]; found {
			return nil, errdefs.Configurationf("%s dtype table: native %q used for both %q and %q",
				framework, native, other, canonical)
		}
		t.toNative[canonical] = native
		t.fromNative[native] = canonical
	}
	for _, canonical := range canonicalOrder {
		if _, found := t.toNative[canonical]; found {
			t.order = append(t.order, canonical)
		}
	}
	return t, nil
}

// MustNewTable is like NewTable, but panics on error. Meant for package initialization of backends.
func MustNewTable(framework string, canonicalToNative map[string]string) *Table {
	t, err := NewTable(framework, canonicalToNative)
	if err != nil {
		panic(err)
	}
	return t
}

// Framework this table belongs to.
func (t *Table) Framework() string { return t.framework }

// Supports returns whether the framework supports the canonical dtype.
func (t *Table) Supports(canonical string) bool {
	_, found := t.toNative[canonical]
	return found
}

// Supported returns the canonical identifiers supported by the framework, in canonical order.
func (t *Table) Supported() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// ToNative converts a canonical identifier to the framework's native representation.
func (t *Table) ToNative(canonical string) (string, error) {
	native, found := t.toNative[canonical]
	if !found {
		if IsValid(canonical) {
			return "", errdefs.Unsupportedf("dtype %q is not supported by %s", canonical, t.framework)
		}
		return "", errdefs.Configurationf("unknown dtype %q", canonical)
	}
	return native, nil
}

// FromNative converts a native representation to its canonical identifier.
func (t *Table) FromNative(native string) (string, error) {
	canonical, found := t.fromNative[native]
	if !found {
		return "", errdefs.Configurationf("%q is not a %s dtype", native, t.framework)
	}
	return canonical, nil
}
