// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Backend interface that returns a "not supported" error
// for all operations.
//
// It can be embedded to bootstrap any backend implementation, or to create mock backends in tests.
package notimplemented

import (
	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/pkg/errors"
)

// NotImplementedError is returned by every method.
//
// It doesn't contain a stack, attach a stack to with with errors.Wrapf(NotImplementedError, "...") when using it.
var NotImplementedError = errdefs.ErrUnsupportedOperation

// BackendName is the name returned by Backend.Name, unless overridden with Backend.BackendName.
const BackendName = "notimplemented"

// Backend is a dummy backend that can be embedded to create mock backends.
type Backend struct {
	// BackendName, if set, is returned by Name instead of "notimplemented".
	BackendName string
}

var _ backends.Backend = &Backend{}

var emptyDTypes = dtypes.MustNewTable(BackendName, nil)

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	if b.BackendName != "" {
		return b.BackendName
	}
	return BackendName
}

// String returns the same as Name.
func (b *Backend) String() string {
	return b.Name()
}

// Description is a longer description of the Backend.
func (b *Backend) Description() string {
	return "Not Implemented Backend (mock backend for testing)"
}

// Ops returns an empty table: every operation is backfilled from the generic namespace.
func (b *Backend) Ops() backends.Table {
	return backends.Table{}
}

// DTypes returns an empty dtype table.
func (b *Backend) DTypes() *dtypes.Table {
	return emptyDTypes
}

// Dev returns NotImplementedError.
func (b *Backend) Dev(x backends.Array) (any, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Dev() for backend %q", b.Name())
}

// DevToStr returns NotImplementedError.
func (b *Backend) DevToStr(native any) (string, error) {
	return "", errors.Wrapf(NotImplementedError, "in DevToStr() for backend %q", b.Name())
}

// DevFromStr returns NotImplementedError.
func (b *Backend) DevFromStr(dev string) (any, error) {
	return nil, errors.Wrapf(NotImplementedError, "in DevFromStr() for backend %q", b.Name())
}

// GPUIsAvailable returns false.
func (b *Backend) GPUIsAvailable() bool { return false }

// NumGPUs returns 0.
func (b *Backend) NumGPUs() int { return 0 }

// TPUIsAvailable returns false.
func (b *Backend) TPUIsAvailable() bool { return false }

// SupportsInplace returns false.
func (b *Backend) SupportsInplace() bool { return false }

// IsNativeArray returns whether x is an array tagged with this backend's name.
func (b *Backend) IsNativeArray(x any) bool {
	arr, ok := x.(backends.Array)
	return ok && arr.Framework() == b.Name()
}

// Finalize is a no-op.
func (b *Backend) Finalize() {}

// Op returns an operation that always fails with NotImplementedError. Useful to build tables of mock backends.
func Op(name string) backends.Fn {
	return func(*backends.Call) (any, error) {
		return nil, errors.Wrapf(NotImplementedError, "operation %q", name)
	}
}
