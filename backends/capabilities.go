// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"
	"slices"
)

// Capabilities holds mappings of what is supported by a backend.
type Capabilities struct {
	// Operations implemented natively by the backend.
	// If not listed, it's assumed to be false, hence backfilled by the generic namespace.
	Operations map[string]bool

	// DTypes lists the canonical data types supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[string]bool
}

// CapabilitiesOf collects the Capabilities of a backend from its operations and dtype table.
func CapabilitiesOf(b Backend) Capabilities {
	c := Capabilities{
		Operations: make(map[string]bool),
		DTypes:     make(map[string]bool),
	}
	for name := range b.Ops() {
		c.Operations[name] = true
	}
	for _, dt := range b.DTypes().Supported() {
		c.DTypes[dt] = true
	}
	return c
}

// Missing returns the operations in OpNames that are not natively supported, sorted.
func (c Capabilities) Missing() []string {
	var missing []string
	for _, name := range OpNames {
		if !c.Operations[name] {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[string]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.DTypes = make(map[string]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}
