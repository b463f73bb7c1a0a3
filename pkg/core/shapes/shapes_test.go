// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3, 4)
	assert.True(t, s.Ok())
	assert.Equal(t, 3, s.Rank())
	assert.Equal(t, 24, s.Size())
	assert.Equal(t, uintptr(96), s.Memory())
	assert.Equal(t, 4, s.Dim(-1))
	assert.Panics(t, func() { s.Dim(3) })

	axis, err := s.AdjustAxis(-2)
	require.NoError(t, err)
	assert.Equal(t, 1, axis)
	_, err = s.AdjustAxis(-4)
	assert.Error(t, err)

	outer, inner := s.Strides(1)
	assert.Equal(t, 2, outer)
	assert.Equal(t, 4, inner)

	s2 := s.WithDim(0, 5)
	assert.Equal(t, []int{5, 3, 4}, s2.Dimensions)
	assert.Equal(t, []int{2, 3, 4}, s.Dimensions)
	assert.False(t, s.Equal(s2))
	assert.True(t, s.Equal(s.Clone()))

	assert.False(t, Shape{}.Ok())
	assert.True(t, Make(dtypes.Int64).IsScalar())
	assert.Panics(t, func() { Make(dtypes.Float32, -1) })
}

func TestSplitSizes(t *testing.T) {
	for _, tc := range []struct {
		dim, n int
		want   []int
	}{
		{6, 3, []int{2, 2, 2}},
		{7, 3, []int{3, 2, 2}},
		{8, 3, []int{3, 3, 2}},
		{3, 3, []int{1, 1, 1}},
		{5, 1, []int{5}},
	} {
		got, err := SplitSizes(tc.dim, tc.n)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "SplitSizes(%d, %d)", tc.dim, tc.n)
		require.NoError(t, CheckSplitSizes(tc.dim, got))
	}
	_, err := SplitSizes(2, 3)
	assert.True(t, errdefs.IsConfiguration(err))
	_, err = SplitSizes(2, 0)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.True(t, errdefs.IsConfiguration(CheckSplitSizes(5, []int{2, 2})))
	assert.True(t, errdefs.IsConfiguration(CheckSplitSizes(4, []int{4, 0})))
}
