// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// SplitSizes partitions dim into n contiguous chunks as equal as possible: the remainder is absorbed by the
// earliest chunks, one extra element each. E.g.: SplitSizes(7, 3) returns [3, 2, 2].
//
// It returns an ErrConfiguration if n <= 0 or dim < n, since some chunk would be empty.
func SplitSizes(dim, n int) ([]int, error) {
	if n <= 0 {
		return nil, errdefs.Configurationf("cannot split dimension %d into %d chunks", dim, n)
	}
	if dim < n {
		return nil, errdefs.Configurationf("cannot split dimension %d into %d non-empty chunks", dim, n)
	}
	base, rem := dim/n, dim%n
	sizes := make([]int, n)
	for ii := range sizes {
		sizes[ii] = base
		if ii < rem {
			sizes[ii]++
		}
	}
	return sizes, nil
}

// CheckSplitSizes validates explicit chunk sizes for a dimension: all positive and summing to dim.
func CheckSplitSizes(dim int, sizes []int) error {
	if len(sizes) == 0 {
		return errdefs.Configurationf("no split sizes given for dimension %d", dim)
	}
	total := 0
	for _, s := range sizes {
		if s <= 0 {
			return errdefs.Configurationf("split sizes %v must all be positive", sizes)
		}
		total += s
	}
	if total != dim {
		return errdefs.Configurationf("split sizes %v sum to %d, but the dimension is %d", sizes, total, dim)
	}
	return nil
}
