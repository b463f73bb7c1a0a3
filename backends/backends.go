// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the contract a numerical framework backend (a "Backend Module") implements to be
// driven by the framework Registry, and a process-wide registry of backend constructors.
//
// Every backend exposes the same set of named operations (see the Op* constants), each implemented as an Fn.
// Backend-specific array, device and dtype representations stay inside the backend: arrays are seen through
// the Array interface, devices through canonical strings (package device) and dtypes through canonical
// identifiers (package dtypes).
//
// Errors are returned, never thrown, and are classified with the sentinels in package errdefs.
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/multiframe/pkg/core/dtypes"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"k8s.io/klog/v2"
)

// Canonical backend names: these are the only names accepted by the framework Registry and by the device
// mapper worker bootstrap.
const (
	NumPy      = "numpy"
	JAX        = "jax"
	TensorFlow = "tensorflow"
	Torch      = "torch"
	MXNet      = "mxnet"
)

// FrameworkNames lists the canonical backend names.
var FrameworkNames = []string{NumPy, JAX, TensorFlow, Torch, MXNet}

// Backend is the API a framework backend implements.
type Backend interface {
	// Name returns the canonical name of the backend, one of FrameworkNames. It is also the
	// Array.Framework tag of the arrays it creates.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Ops returns the operations implemented by the backend. Operations not listed are backfilled by the
	// framework Registry from the generic namespace.
	Ops() Table

	// DTypes is the table of canonical dtypes supported by the backend, with their native names.
	DTypes() *dtypes.Table

	// Dev returns the native device handle where x is stored.
	Dev(x Array) (any, error)

	// DevToStr converts a native device handle to a canonical device string.
	DevToStr(native any) (string, error)

	// DevFromStr converts a canonical device string to a native device handle.
	DevFromStr(dev string) (any, error)

	// GPUIsAvailable returns whether at least one GPU is available.
	GPUIsAvailable() bool

	// NumGPUs returns the number of GPUs available.
	NumGPUs() int

	// TPUIsAvailable returns whether at least one TPU is available.
	TPUIsAvailable() bool

	// SupportsInplace returns whether arrays are mutable, and hence the `out` argument can be written in place.
	SupportsInplace() bool

	// IsNativeArray returns whether x is an array created by this backend.
	IsNativeArray(x any) bool

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a constructor that takes as input a configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Lookup returns the constructor registered for name.
func Lookup(name string) (Constructor, bool) {
	constructor, found := registeredConstructors[name]
	return constructor, found
}

// IsRegistered returns whether a backend with the given name was registered.
func IsRegistered(name string) bool {
	_, found := registeredConstructors[name]
	return found
}

// List returns the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "torch") and
// "<backend_configuration>" is backend specific (e.g.: "gpus=2").
const ConfigEnvVar = "MULTIFRAME_BACKEND"

// SelectedConfig returns the default configuration: the environment variable ConfigEnvVar if defined,
// otherwise DefaultConfig.
func SelectedConfig() string {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return config
	}
	return DefaultConfig
}

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment ConfigEnvVar is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	return NewWithConfig(SelectedConfig())
}

// SplitConfig splits a "<backend_name>:<backend_configuration>" string. If there is no ":", the whole
// string is taken as the backend name.
func SplitConfig(config string) (name, backendConfig string) {
	if idx := strings.Index(config, ":"); idx != -1 {
		return config[:idx], config[idx+1:]
	}
	return config, ""
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>" and
// constructs the corresponding backend.
//
// An empty backend name selects the first registered backend. An unknown backend name is an ErrConfiguration.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errdefs.Configurationf(`no registered backends, maybe import the default ones with ` +
			`import _ "github.com/gomlx/multiframe/backends/default"?`)
	}
	backendName, backendConfig := SplitConfig(config)
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errdefs.Configurationf("can't find backend %q for configuration %q given, registered backends: %v",
			backendName, config, List())
	}
	klog.V(2).Infof("creating backend %q with configuration %q", backendName, backendConfig)
	return constructor(backendConfig)
}

// ParseConfig parses a backend configuration of the form "key1=value1,key2=value2". Keys without a value
// are set to "". Empty configurations return an empty map.
func ParseConfig(config string) (map[string]string, error) {
	options := make(map[string]string)
	if config == "" {
		return options, nil
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, errdefs.Configurationf("invalid backend configuration %q: empty key", config)
		}
		options[key] = strings.TrimSpace(value)
	}
	return options, nil
}
