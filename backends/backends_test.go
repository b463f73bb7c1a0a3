// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends_test

import (
	"os"
	"testing"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/backends/notimplemented"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	notimplemented.Backend
	config string
}

func (b *mockBackend) Ops() backends.Table {
	return backends.Table{backends.OpAdd: notimplemented.Op(backends.OpAdd)}
}

func init() {
	backends.Register("mock", func(config string) (backends.Backend, error) {
		return &mockBackend{Backend: notimplemented.Backend{BackendName: "mock"}, config: config}, nil
	})
}

func TestNewWithConfig(t *testing.T) {
	b, err := backends.NewWithConfig("mock:gpus=2")
	require.NoError(t, err)
	assert.Equal(t, "mock", b.Name())
	assert.Equal(t, "gpus=2", b.(*mockBackend).config)

	_, err = backends.NewWithConfig("nope:x")
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))

	assert.Contains(t, backends.List(), "mock")
	assert.True(t, backends.IsRegistered("mock"))
	_, found := backends.Lookup("nope")
	assert.False(t, found)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(backends.ConfigEnvVar, "mock:tpus=1")
	b, err := backends.New()
	require.NoError(t, err)
	assert.Equal(t, "tpus=1", b.(*mockBackend).config)

	require.NoError(t, os.Unsetenv(backends.ConfigEnvVar))
	backends.DefaultConfig = "mock:from-default"
	defer func() { backends.DefaultConfig = "" }()
	b, err = backends.New()
	require.NoError(t, err)
	assert.Equal(t, "from-default", b.(*mockBackend).config)
}

func TestParseConfig(t *testing.T) {
	name, cfg := backends.SplitConfig("torch:gpus=2,tpus=1")
	assert.Equal(t, "torch", name)
	assert.Equal(t, "gpus=2,tpus=1", cfg)
	name, cfg = backends.SplitConfig("numpy")
	assert.Equal(t, "numpy", name)
	assert.Equal(t, "", cfg)

	opts, err := backends.ParseConfig(" gpus=2, tpus = 1 ,verbose")
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"gpus": "2", "tpus": "1", "verbose": ""}, opts); diff != "" {
		t.Errorf("ParseConfig() mismatch (-want +got):\n%s", diff)
	}
	_, err = backends.ParseConfig("=3")
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestNamespaceClone(t *testing.T) {
	ns := backends.Namespace{
		"float32":         {Name: "float32", Value: "float32"},
		backends.OpAdd:    {Name: backends.OpAdd, Fn: notimplemented.Op(backends.OpAdd), Source: "mock"},
		backends.OpDivide: {Name: backends.OpDivide, Fn: notimplemented.Op(backends.OpDivide), Dispatch: true},
	}
	ns2 := ns.Clone()
	ns2[backends.OpAdd].Source = "changed"
	delete(ns2, "float32")
	assert.Equal(t, "mock", ns[backends.OpAdd].Source)
	assert.Len(t, ns, 3)
	assert.Equal(t, []string{"add", "divide", "float32"}, ns.Names())
	assert.True(t, ns[backends.OpAdd].IsOp())
	assert.False(t, ns["float32"].IsOp())
}

func TestCallParams(t *testing.T) {
	call := backends.NewCall(1.0, "x").With("axis", 1).With("keepdims", true).OnDevice("gpu:0")
	axis, err := backends.ParamAs(call, "axis", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, axis)
	missing, err := backends.ParamAs(call, "axes", []int{7})
	require.NoError(t, err)
	assert.Equal(t, []int{7}, missing)
	_, err = backends.ParamAs(call, "keepdims", "")
	assert.True(t, errdefs.IsConfiguration(err))

	_, err = call.Arg(2)
	assert.True(t, errdefs.IsConfiguration(err))
	_, err = call.ArrayArg(0)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.Nil(t, call.FirstArray())

	c2 := call.Clone()
	c2.Params["axis"] = 3
	c2.Args[0] = 2.0
	assert.Equal(t, 1, call.Params["axis"])
	assert.Equal(t, 1.0, call.Args[0])
	assert.Equal(t, "gpu:0", c2.Device)
}

func TestCapabilities(t *testing.T) {
	b := &mockBackend{}
	c := backends.CapabilitiesOf(b)
	assert.True(t, c.Operations[backends.OpAdd])
	assert.Empty(t, c.DTypes)
	assert.NotContains(t, c.Missing(), backends.OpAdd)
	assert.Contains(t, c.Missing(), backends.OpReduceSum)
	c2 := c.Clone()
	c2.Operations[backends.OpDivide] = true
	assert.False(t, c.Operations[backends.OpDivide])
}
