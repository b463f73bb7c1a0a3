// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package errdefs defines the error taxonomy shared by every multiframe package.
//
// Errors are always wrapped (with github.com/pkg/errors) around one of the sentinels below, so callers can
// branch on them with errors.Is, or with the Is* predicates.
package errdefs

import "github.com/pkg/errors"

var (
	// ErrConfiguration is a static precondition violation: malformed device string, unknown backend name,
	// invalid reduction mode, inconsistent shapes, etc. It is never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrDispatch is returned when no backend can be resolved: the framework stack is empty and no
	// argument is an array of a known framework.
	ErrDispatch = errors.New("dispatch error")

	// ErrUnsupportedOperation is returned when a backend cannot perform the requested combination,
	// e.g. a CPU-only backend asked to place data on a GPU.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrWorkerFailure is returned when a device mapper worker died, panicked or timed out.
	ErrWorkerFailure = errors.New("worker failure")

	// ErrOutOfMemory is used by workers (or user functions) to signal a device ran out of memory.
	// The device manager reacts to it by treating the current configuration as memory saturated.
	ErrOutOfMemory = errors.New("out of memory")
)

// Configurationf returns an ErrConfiguration with the formatted message and a stack trace.
func Configurationf(format string, args ...any) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

// Dispatchf returns an ErrDispatch with the formatted message and a stack trace.
func Dispatchf(format string, args ...any) error {
	return errors.Wrapf(ErrDispatch, format, args...)
}

// Unsupportedf returns an ErrUnsupportedOperation with the formatted message and a stack trace.
func Unsupportedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupportedOperation, format, args...)
}

// WorkerFailuref returns an ErrWorkerFailure with the formatted message and a stack trace.
func WorkerFailuref(format string, args ...any) error {
	return errors.Wrapf(ErrWorkerFailure, format, args...)
}

// IsConfiguration reports whether err is (or wraps) ErrConfiguration.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsDispatch reports whether err is (or wraps) ErrDispatch.
func IsDispatch(err error) bool { return errors.Is(err, ErrDispatch) }

// IsUnsupported reports whether err is (or wraps) ErrUnsupportedOperation.
func IsUnsupported(err error) bool { return errors.Is(err, ErrUnsupportedOperation) }

// IsWorkerFailure reports whether err is (or wraps) ErrWorkerFailure.
func IsWorkerFailure(err error) bool { return errors.Is(err, ErrWorkerFailure) }

// IsOutOfMemory reports whether err is (or wraps) ErrOutOfMemory.
func IsOutOfMemory(err error) bool { return errors.Is(err, ErrOutOfMemory) }
