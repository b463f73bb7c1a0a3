// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes all the framework backends: numpy, jax, tensorflow, torch and mxnet.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/multiframe/backends/default"
//
// It also makes numpy the default backend, if backends.DefaultConfig is not set.
package _default

import (
	"github.com/gomlx/multiframe/backends"
	_ "github.com/gomlx/multiframe/backends/jax"
	_ "github.com/gomlx/multiframe/backends/mxnet"
	"github.com/gomlx/multiframe/backends/numpy"
	_ "github.com/gomlx/multiframe/backends/tensorflow"
	_ "github.com/gomlx/multiframe/backends/torch"
)

func init() {
	if backends.DefaultConfig == "" {
		backends.DefaultConfig = numpy.BackendName
	}
}
