// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

// DefaultDevice returns dev if given (after validating it), otherwise the top of the default device stack,
// otherwise "gpu:0" if the active framework has a GPU, otherwise "cpu".
func (r *Registry) DefaultDevice(dev string) (string, error) {
	return r.devices.Default(dev, r.gpuAvailable())
}

// SetDefaultDevice pushes dev to the default device stack. A malformed dev is an ErrConfiguration, and
// the stack is not changed.
func (r *Registry) SetDefaultDevice(dev string) error {
	return r.devices.Push(dev)
}

// UnsetDefaultDevice pops the default device stack. It is a no-op if it is empty.
func (r *Registry) UnsetDefaultDevice() (string, bool) {
	return r.devices.Pop()
}

// WithDefaultDevice sets dev as the default device for the duration of fn.
func (r *Registry) WithDefaultDevice(dev string, fn func() error) error {
	return r.devices.With(dev, fn)
}

// Devices returns the default device stack contents, bottom first.
func (r *Registry) Devices() []string {
	return r.devices.Devices()
}

// SplitFactor returns the split factor of dev, 0 if never set.
func (r *Registry) SplitFactor(dev string) float64 {
	return r.splitFactors.Get(dev)
}

// SetSplitFactor sets the split factor of dev. Negative factors are an ErrConfiguration.
func (r *Registry) SetSplitFactor(dev string, factor float64) error {
	return r.splitFactors.Set(dev, factor)
}

// SplitFactors returns a copy of the split factors set.
func (r *Registry) SplitFactors() map[string]float64 {
	return r.splitFactors.All()
}
