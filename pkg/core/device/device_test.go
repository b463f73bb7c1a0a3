// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"testing"

	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		dev  string
		want Device
	}{
		{"cpu", Device{Kind: KindCPU}},
		{"gpu:0", Device{Kind: KindGPU, Index: 0}},
		{"gpu:12", Device{Kind: KindGPU, Index: 12}},
		{"gpu:10", Device{Kind: KindGPU, Index: 10}},
		{"tpu:3", Device{Kind: KindTPU, Index: 3}},
	} {
		t.Run(tc.dev, func(t *testing.T) {
			got, err := Parse(tc.dev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.dev, got.String())
		})
	}

	for _, bad := range []string{"", "cpu:0", "gpu", "gpu:", "gpu0", "gpu:-1", "gpu:a", "npu:1", "GPU:0", "gpu:1 ", "gpu:01", "tpu:00"} {
		t.Run("invalid_"+bad, func(t *testing.T) {
			err := Validate(bad)
			require.Error(t, err)
			assert.True(t, errdefs.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestGPU(t *testing.T) {
	assert.Equal(t, "gpu:2", GPU(2))
	assert.Equal(t, "tpu:0", TPU(0))
	assert.True(t, IsGPU("gpu:1"))
	assert.False(t, IsGPU("cpu"))
	assert.False(t, IsGPU("gpu"))
}

func TestStack(t *testing.T) {
	s := NewStack()
	_, ok := s.Pop()
	assert.False(t, ok, "Pop on an empty stack is a no-op")

	dev, err := s.Default("", false)
	require.NoError(t, err)
	assert.Equal(t, "cpu", dev)
	dev, err = s.Default("", true)
	require.NoError(t, err)
	assert.Equal(t, "gpu:0", dev)

	require.NoError(t, s.Push("gpu:1"))
	require.NoError(t, s.Push("cpu"))
	err = s.Push("gpu1")
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.Equal(t, []string{"gpu:1", "cpu"}, s.Devices(), "a malformed push must not change the stack")

	dev, err = s.Default("", true)
	require.NoError(t, err)
	assert.Equal(t, "cpu", dev)
	dev, err = s.Default("tpu:0", false)
	require.NoError(t, err)
	assert.Equal(t, "tpu:0", dev)
	_, err = s.Default("xpu:0", false)
	assert.True(t, errdefs.IsConfiguration(err))

	dev, ok = s.Pop()
	require.True(t, ok)
	assert.Equal(t, "cpu", dev)
	dev, ok = s.Top()
	require.True(t, ok)
	assert.Equal(t, "gpu:1", dev)
	assert.Equal(t, 1, s.Len())
}

func TestStackWith(t *testing.T) {
	s := NewStack()
	var inside string
	err := s.With("gpu:3", func() error {
		inside, _ = s.Top()
		return errdefs.Dispatchf("boom")
	})
	assert.True(t, errdefs.IsDispatch(err))
	assert.Equal(t, "gpu:3", inside)
	assert.Equal(t, 0, s.Len())

	assert.Panics(t, func() {
		_ = s.With("cpu", func() error { panic("oops") })
	})
	assert.Equal(t, 0, s.Len(), "stack must be unwound on panic")

	err = s.With("bad", func() error { t.Fatal("must not run"); return nil })
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestSplitFactors(t *testing.T) {
	sf := NewSplitFactors()
	assert.Equal(t, 0.0, sf.Get("gpu:0"))
	require.NoError(t, sf.Set("gpu:0", 0.25))
	assert.Equal(t, 0.25, sf.Get("gpu:0"))
	assert.True(t, errdefs.IsConfiguration(sf.Set("gpu:0", -0.1)))
	assert.True(t, errdefs.IsConfiguration(sf.Set("gpu0", 0.1)))
	assert.Equal(t, map[string]float64{"gpu:0": 0.25}, sf.All())
}

type fakeProbe struct{}

func (fakeProbe) TotalMem(int) (float64, error) { return 16, nil }
func (fakeProbe) UsedMem(int) (float64, error)  { return 4, nil }
func (fakeProbe) Util(index int) (float64, error) {
	return float64(10 * (index + 1)), nil
}

func TestHostMonitor(t *testing.T) {
	m := NewHostMonitor()

	total, err := m.TotalMem("cpu")
	require.NoError(t, err)
	assert.Greater(t, total, 0.0)
	pct, err := m.PercentUsedMem("cpu")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)

	_, err = m.UsedMem("gpu:0")
	assert.True(t, errdefs.IsUnsupported(err), "got %v", err)
	_, err = m.Util("tpu:0")
	assert.True(t, errdefs.IsConfiguration(err), "got %v", err)
	_, err = m.TotalMem("xpu:0")
	assert.True(t, errdefs.IsConfiguration(err), "got %v", err)

	m.GPU = fakeProbe{}
	pct, err = m.PercentUsedMem("gpu:1")
	require.NoError(t, err)
	assert.InDelta(t, 25.0, pct, 1e-9)
	util, err := m.Util("gpu:1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, util)

	m.ProcessSpecific = true
	rss, err := m.UsedMem("cpu")
	require.NoError(t, err)
	assert.Greater(t, rss, 0.0)
	_, err = m.UsedMem("gpu:0")
	assert.True(t, errdefs.IsUnsupported(err))

	cores, err := NumCPUCores()
	require.NoError(t, err)
	assert.Greater(t, cores, 0)
}
