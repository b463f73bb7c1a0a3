// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implement a set type as a `map[T]struct{}` but with better ergonomics.
package sets

import (
	"cmp"
	"maps"
	"slices"
)

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// MakeWith creates a Set[T] with the given elements inserted.
func MakeWith[T comparable](elements ...T) Set[T] {
	s := Make[T](len(elements))
	s.Insert(elements...)
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Add inserts key and returns whether it was new. Used to detect repeated values.
func (s Set[T]) Add(key T) bool {
	if s.Has(key) {
		return false
	}
	s[key] = struct{}{}
	return true
}

// Clone returns a copy of s. A nil set clones to an empty one.
func (s Set[T]) Clone() Set[T] {
	c := Make[T](len(s))
	maps.Copy(c, s)
	return c
}

// FirstRepeated returns the first element of values already seen earlier in values.
func FirstRepeated[T comparable](values []T) (repeated T, found bool) {
	seen := Make[T](len(values))
	for _, v := range values {
		if !seen.Add(v) {
			return v, true
		}
	}
	return
}

// Sorted returns the elements of s in increasing order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	return slices.Sorted(maps.Keys(s))
}
