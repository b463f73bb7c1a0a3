// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"os"
	"time"

	"github.com/gomlx/multiframe/pkg/core/errdefs"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Monitor reports memory and utilization telemetry for a device. Memory is reported in GB and
// percentages in the range [0, 100].
type Monitor interface {
	TotalMem(dev string) (float64, error)
	UsedMem(dev string) (float64, error)
	PercentUsedMem(dev string) (float64, error)
	Util(dev string) (float64, error)
}

// GPUProbe reads vendor GPU telemetry. The index is the one from the "gpu:<N>" device string.
type GPUProbe interface {
	TotalMem(index int) (float64, error)
	UsedMem(index int) (float64, error)
	Util(index int) (float64, error)
}

const bytesPerGB = 1e9

// HostMonitor reads host RAM and CPU statistics for "cpu", and delegates "gpu:<N>" to an optional GPUProbe.
type HostMonitor struct {
	// GPU probe used for "gpu:<N>" devices. If nil, GPU queries return ErrUnsupportedOperation.
	GPU GPUProbe

	// ProcessSpecific reports the memory used by this process only (its RSS) instead of the whole host.
	// Not supported for GPUs.
	ProcessSpecific bool

	// UtilInterval is the sampling interval used to measure CPU utilization.
	// If 0, the utilization since the previous call is returned.
	UtilInterval time.Duration
}

var _ Monitor = (*HostMonitor)(nil)

// NewHostMonitor returns a HostMonitor with no GPU probe.
func NewHostMonitor() *HostMonitor {
	return &HostMonitor{UtilInterval: 100 * time.Millisecond}
}

// parseMonitored parses dev and rejects TPUs, for which there is no telemetry source.
func (m *HostMonitor) parseMonitored(dev string) (Device, error) {
	d, err := Parse(dev)
	if err != nil {
		return d, err
	}
	if d.Kind == KindTPU {
		return d, errdefs.Configurationf("invalid device string %q for memory/utilization queries, "+
			"must be \"cpu\" or \"gpu:<idx>\"", dev)
	}
	if d.Kind == KindGPU && m.GPU == nil {
		return d, errdefs.Unsupportedf("no GPU telemetry probe configured, cannot query %q", dev)
	}
	return d, nil
}

// TotalMem returns the total memory of the device, in GB.
func (m *HostMonitor) TotalMem(dev string) (float64, error) {
	d, err := m.parseMonitored(dev)
	if err != nil {
		return 0, err
	}
	if d.Kind == KindGPU {
		return m.GPU.TotalMem(d.Index)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read host memory statistics")
	}
	return float64(vm.Total) / bytesPerGB, nil
}

// UsedMem returns the memory in use on the device, in GB.
func (m *HostMonitor) UsedMem(dev string) (float64, error) {
	d, err := m.parseMonitored(dev)
	if err != nil {
		return 0, err
	}
	if d.Kind == KindGPU {
		if m.ProcessSpecific {
			return 0, errdefs.Unsupportedf("process specific GPU memory queries are not supported (%q)", dev)
		}
		return m.GPU.UsedMem(d.Index)
	}
	if m.ProcessSpecific {
		rss, err := processRSS()
		if err != nil {
			return 0, err
		}
		return float64(rss) / bytesPerGB, nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read host memory statistics")
	}
	return float64(vm.Total-vm.Available) / bytesPerGB, nil
}

// PercentUsedMem returns the percentage of the device memory in use.
func (m *HostMonitor) PercentUsedMem(dev string) (float64, error) {
	used, err := m.UsedMem(dev)
	if err != nil {
		return 0, err
	}
	total, err := m.TotalMem(dev)
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, errors.Errorf("device %q reported non-positive total memory %g", dev, total)
	}
	return used / total * 100, nil
}

// Util returns the device utilization percentage. For the cpu it is the average over all cores.
func (m *HostMonitor) Util(dev string) (float64, error) {
	d, err := m.parseMonitored(dev)
	if err != nil {
		return 0, err
	}
	if d.Kind == KindGPU {
		return m.GPU.Util(d.Index)
	}
	percents, err := cpu.Percent(m.UtilInterval, false)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read host cpu utilization")
	}
	if len(percents) == 0 {
		return 0, errors.New("host cpu utilization not available")
	}
	return percents[0], nil
}

func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, errors.Wrap(err, "failed to open current process")
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read process memory info")
	}
	return info.RSS, nil
}

// NumCPUCores returns the number of logical cpu cores of the host.
func NumCPUCores() (int, error) {
	n, err := cpu.Counts(true)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cpu cores")
	}
	return n, nil
}
