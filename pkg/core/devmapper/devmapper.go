// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devmapper runs a function in parallel across devices, with one worker goroutine per device.
//
// Each worker owns its own framework.Registry, with the framework and its device set as default for the
// lifetime of the worker. The coordinator only talks to workers through channels: it sends the per-device
// keyword arguments of each call and collects the results in device order.
package devmapper

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/gomlx/multiframe/pkg/core/framework"
	"github.com/gomlx/multiframe/pkg/core/multidev"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Fn is the function mapped across devices. It is called in the worker goroutine of dev, with the
// worker's registry and the merged keyword arguments: constant, unique to the device, and per call.
type Fn func(r *framework.Registry, dev string, kwargs map[string]any) (any, error)

// RetFn consolidates the per-device results of a Map call, in device order, into one value.
type RetFn func(results *multidev.Item) (any, error)

// Builder is implemented by keyword arguments that need to be built on the device of the worker before
// use, e.g. model parameters.
type Builder interface {
	Built() bool
	Build(r *framework.Registry, dev string) error
}

// Config of a Mapper.
type Config struct {
	// Framework selection string used by the workers, e.g. "torch:gpus=2". If empty, the default
	// framework (see backends.SelectedConfig) is used.
	Framework string

	// Devices to run workers on, one worker per device.
	Devices []string

	// Timeout waiting for the results of each device in Map, and for the workers to start.
	Timeout time.Duration

	// PollInterval is the bounded wait of the worker loop: after it the worker checks whether it was
	// cancelled and keeps waiting.
	PollInterval time.Duration

	// JoinTimeout is how long Close waits for the workers to exit.
	JoinTimeout time.Duration

	// Constant keyword arguments, passed to every worker. They are shared, so they must be safe for
	// concurrent use.
	Constant map[string]any

	// Unique keyword arguments: Unique[key][i] is the value of key for Devices[i]. Values implementing
	// Builder are built by their worker when it starts.
	Unique map[string][]any
}

// DefaultConfig returns a Config with the default timeouts and no devices.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		PollInterval: 100 * time.Millisecond,
		JoinTimeout:  250 * time.Millisecond,
	}
}

// work sent to a worker. A closed input channel is the sentinel that stops the worker.
type work struct {
	kwargs         map[string]any
	splitFactor    float64
	hasSplitFactor bool
}

type result struct {
	value any
	err   error

	// fatal marks results after which the worker can't be trusted anymore, e.g. a panic.
	fatal bool
}

type worker struct {
	id      string
	dev     string
	in      chan *work
	out     chan result
	started chan error
	done    chan struct{}
}

// Mapper runs Fn on a fixed pool of one worker per device.
//
// Map and Close must not be called concurrently.
type Mapper struct {
	id      string
	cfg     Config
	fn      Fn
	retFn   RetFn
	workers map[string]*worker
	cancel  context.CancelFunc

	mu        sync.Mutex
	broken    error
	closeOnce sync.Once
	closeErr  error
}

// New starts one worker per device of cfg and waits for all of them to activate their framework and
// device. If any fails to start, the workers already started are closed and the error is returned.
//
// retFn may be nil, in which case Map returns the *multidev.Item with the per-device results.
func New(ctx context.Context, cfg Config, fn Fn, retFn RetFn) (*Mapper, error) {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaults.JoinTimeout
	}
	if len(cfg.Devices) == 0 {
		return nil, errdefs.Configurationf("device mapper requires at least one device")
	}
	if fn == nil {
		return nil, errdefs.Configurationf("device mapper requires a function to map")
	}
	seen := make(map[string]bool, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		if seen[dev] {
			return nil, errdefs.Configurationf("device %q listed more than once in %v", dev, cfg.Devices)
		}
		seen[dev] = true
	}
	for key, values := range cfg.Unique {
		if len(values) != len(cfg.Devices) {
			return nil, errdefs.Configurationf("unique keyword argument %q has %d values for %d devices",
				key, len(values), len(cfg.Devices))
		}
	}
	cfg.Devices = slices.Clone(cfg.Devices)

	workerCtx, cancel := context.WithCancel(ctx)
	m := &Mapper{
		id:      uuid.NewString(),
		cfg:     cfg,
		fn:      fn,
		retFn:   retFn,
		workers: make(map[string]*worker, len(cfg.Devices)),
		cancel:  cancel,
	}
	for ii, dev := range cfg.Devices {
		w := &worker{
			id:      uuid.NewString(),
			dev:     dev,
			in:      make(chan *work, 1),
			out:     make(chan result, 1),
			started: make(chan error, 1),
			done:    make(chan struct{}),
		}
		kwargs := maps.Clone(cfg.Constant)
		if kwargs == nil {
			kwargs = make(map[string]any)
		}
		for key, values := range cfg.Unique {
			kwargs[key] = values[ii]
		}
		m.workers[dev] = w
		go m.run(workerCtx, w, kwargs)
	}

	var startErr error
	for _, dev := range cfg.Devices {
		w := m.workers[dev]
		select {
		case err := <-w.started:
			startErr = multierr.Append(startErr, err)
		case <-time.After(cfg.Timeout):
			startErr = multierr.Append(startErr, errdefs.WorkerFailuref("worker for %q didn't start within %s", dev, cfg.Timeout))
		}
	}
	if startErr != nil {
		_ = m.Close()
		return nil, startErr
	}
	klog.V(1).Infof("device mapper %s started %d workers on %v (framework %q)", m.id, len(cfg.Devices), cfg.Devices, cfg.Framework)
	return m, nil
}

// Devices returns the devices of the mapper, in order.
func (m *Mapper) Devices() []string { return slices.Clone(m.cfg.Devices) }

// String implements fmt.Stringer.
func (m *Mapper) String() string {
	return fmt.Sprintf("devmapper.Mapper(%s, %v)", m.id, m.cfg.Devices)
}

// start activates the framework and device of the worker, and builds its Builder keyword arguments.
func (m *Mapper) start(r *framework.Registry, w *worker, kwargs map[string]any) error {
	var err error
	if m.cfg.Framework == "" {
		err = r.SetDefaultFramework()
	} else {
		err = r.SetFramework(m.cfg.Framework)
	}
	if err != nil {
		return errors.WithMessagef(err, "worker for %q", w.dev)
	}
	if err := r.SetDefaultDevice(w.dev); err != nil {
		return errors.WithMessagef(err, "worker for %q", w.dev)
	}
	for _, key := range slices.Sorted(maps.Keys(kwargs)) {
		if _, unique := m.cfg.Unique[key]; !unique {
			continue
		}
		if b, ok := kwargs[key].(Builder); ok && !b.Built() {
			if err := b.Build(r, w.dev); err != nil {
				return errors.WithMessagef(err, "building keyword argument %q on %q", key, w.dev)
			}
		}
	}
	return nil
}

// run is the worker loop.
func (m *Mapper) run(ctx context.Context, w *worker, kwargs map[string]any) {
	defer close(w.done)
	r := framework.New()
	defer r.ClearFrameworkStack()
	if err := m.start(r, w, kwargs); err != nil {
		w.started <- err
		return
	}
	w.started <- nil
	klog.V(2).Infof("device mapper %s: worker %s running on %q", m.id, w.id, w.dev)

	for {
		var item *work
		var ok bool
		select {
		case <-ctx.Done():
			klog.V(2).Infof("device mapper %s: worker %s on %q cancelled", m.id, w.id, w.dev)
			return
		case item, ok = <-w.in:
		case <-time.After(m.cfg.PollInterval):
			continue
		}
		if !ok {
			klog.V(2).Infof("device mapper %s: worker %s on %q stopped", m.id, w.id, w.dev)
			return
		}
		w.out <- m.call(r, w, kwargs, item)
	}
}

// call runs the mapped function for one work item, converting panics to ErrWorkerFailure.
func (m *Mapper) call(r *framework.Registry, w *worker, kwargs map[string]any, item *work) (res result) {
	if item.hasSplitFactor {
		if err := r.SetSplitFactor(w.dev, item.splitFactor); err != nil {
			return result{err: err}
		}
	}
	merged := maps.Clone(kwargs)
	maps.Copy(merged, item.kwargs)
	exception := exceptions.Try(func() {
		res.value, res.err = m.fn(r, w.dev, merged)
	})
	if exception != nil {
		return result{err: errdefs.WorkerFailuref("worker %s on %q panicked: %v", w.id, w.dev, exception), fatal: true}
	}
	return res
}

// Map runs the function on each of the used devices (all devices if used is nil), and passes the results,
// in the order of used, to the RetFn.
//
// splitFactors, if not nil, updates the split factor of the devices before the call. Values of kwargs
// that are multidev items (or nests of them) are replaced by their value for each device.
//
// A worker that doesn't return within the timeout, that panics or that died returns ErrWorkerFailure,
// and the mapper is marked broken: further calls to Map fail immediately. Errors returned by the function
// itself are returned, with the device in the message.
func (m *Mapper) Map(ctx context.Context, used []string, splitFactors map[string]float64, kwargs map[string]any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken != nil {
		return nil, m.broken
	}
	if used == nil {
		used = m.cfg.Devices
	}
	for _, dev := range used {
		if _, found := m.workers[dev]; !found {
			return nil, errdefs.Configurationf("device %q is not one of the mapper devices %v", dev, m.cfg.Devices)
		}
	}

	for _, dev := range used {
		item := &work{kwargs: make(map[string]any, len(kwargs))}
		for key, v := range kwargs {
			item.kwargs[key] = multidev.Select(v, dev)
		}
		if sf, found := splitFactors[dev]; found {
			item.splitFactor, item.hasSplitFactor = sf, true
		}
		select {
		case m.workers[dev].in <- item:
		default:
			return nil, m.fail(errdefs.WorkerFailuref("worker on %q has pending work", dev))
		}
	}

	values := make([]any, len(used))
	var fnErr error
	for ii, dev := range used {
		w := m.workers[dev]
		select {
		case res := <-w.out:
			if res.fatal {
				return nil, m.fail(res.err)
			}
			if res.err != nil {
				fnErr = multierr.Append(fnErr, errors.WithMessagef(res.err, "device %q", dev))
			}
			values[ii] = res.value
		case <-w.done:
			return nil, m.fail(errdefs.WorkerFailuref("worker on %q exited", dev))
		case <-time.After(m.cfg.Timeout):
			return nil, m.fail(errdefs.WorkerFailuref("worker on %q didn't return within %s", dev, m.cfg.Timeout))
		case <-ctx.Done():
			return nil, m.fail(errdefs.WorkerFailuref("waiting for worker on %q: %v", dev, ctx.Err()))
		}
	}
	if fnErr != nil {
		return nil, fnErr
	}
	results, err := multidev.NewItem(multidev.Distributed, used, values, 0)
	if err != nil {
		return nil, err
	}
	if m.retFn == nil {
		return results, nil
	}
	return m.retFn(results)
}

// fail marks the mapper broken with err, and returns err.
func (m *Mapper) fail(err error) error {
	klog.Warningf("device mapper %s is broken: %v", m.id, err)
	m.broken = errors.WithMessage(err, "device mapper broken")
	return err
}

// Broken returns the error that broke the mapper, or nil.
func (m *Mapper) Broken() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broken
}

// Close stops the workers: it sends the stop sentinel, waits up to JoinTimeout for them to exit, and then
// cancels the stragglers. It never blocks longer than JoinTimeout, and it returns an ErrWorkerFailure per
// worker that did not exit in time.
//
// It is safe to call Close more than once: later calls return the result of the first.
func (m *Mapper) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, dev := range m.cfg.Devices {
			close(m.workers[dev].in)
		}
		deadline := time.After(m.cfg.JoinTimeout)
		var stragglers []string
		for _, dev := range m.cfg.Devices {
			select {
			case <-m.workers[dev].done:
			case <-deadline:
				stragglers = append(stragglers, dev)
			}
		}
		m.cancel()
		for _, dev := range stragglers {
			w := m.workers[dev]
			select {
			case <-w.done:
				continue
			default:
			}
			klog.Warningf("device mapper %s: worker %s on %q did not exit within %s", m.id, w.id, dev, m.cfg.JoinTimeout)
			m.closeErr = multierr.Append(m.closeErr,
				errdefs.WorkerFailuref("worker %s on %q did not exit within %s", w.id, dev, m.cfg.JoinTimeout))
		}
		if m.broken == nil {
			m.broken = errdefs.WorkerFailuref("device mapper closed")
		}
		klog.V(1).Infof("device mapper %s closed", m.id)
	})
	return m.closeErr
}
