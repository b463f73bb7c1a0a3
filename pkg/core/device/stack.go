// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"slices"

	"k8s.io/klog/v2"
)

// Stack is the default device stack: the top is used whenever an operation omits an explicit device.
//
// It is not safe for concurrent use: like the framework stack, it is owned by a single goroutine.
type Stack struct {
	devices []string
}

// NewStack returns an empty default device stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push validates dev and pushes it. A malformed device returns an ErrConfiguration and leaves the
// stack untouched.
func (s *Stack) Push(dev string) error {
	if err := Validate(dev); err != nil {
		return err
	}
	s.devices = append(s.devices, dev)
	klog.V(2).Infof("default device stack: %v", s.devices)
	return nil
}

// Pop removes the top of the stack and returns it. It is a no-op on an empty stack.
func (s *Stack) Pop() (dev string, ok bool) {
	if len(s.devices) == 0 {
		return "", false
	}
	dev = s.devices[len(s.devices)-1]
	s.devices = s.devices[:len(s.devices)-1]
	klog.V(2).Infof("default device stack: %v", s.devices)
	return dev, true
}

// Top returns the top of the stack, if any.
func (s *Stack) Top() (dev string, ok bool) {
	if len(s.devices) == 0 {
		return "", false
	}
	return s.devices[len(s.devices)-1], true
}

// Len returns the number of devices in the stack.
func (s *Stack) Len() int { return len(s.devices) }

// Devices returns a copy of the stack contents, bottom first.
func (s *Stack) Devices() []string { return slices.Clone(s.devices) }

// Default returns dev after validating it, if it is given. Otherwise, it returns the top of the stack, or,
// if the stack is empty, "gpu:0" if gpuAvailable, else "cpu".
func (s *Stack) Default(dev string, gpuAvailable bool) (string, error) {
	if dev != "" {
		if err := Validate(dev); err != nil {
			return "", err
		}
		return dev, nil
	}
	if top, ok := s.Top(); ok {
		return top, nil
	}
	if gpuAvailable {
		return GPU(0), nil
	}
	return CPU, nil
}

// With pushes dev for the duration of fn, and pops it on return, even if fn returns an error or panics.
func (s *Stack) With(dev string, fn func() error) error {
	if err := s.Push(dev); err != nil {
		return err
	}
	defer s.Pop()
	return fn()
}
