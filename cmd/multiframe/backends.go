// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/janpfeifer/must"
)

// backendConfig returns the configuration used to instantiate the backend name.
func backendConfig(name string) string {
	if name == backends.NumPy {
		return name
	}
	return fmt.Sprintf("%s:gpus=%d", name, *flagGPUs)
}

func listBackends() {
	fmt.Println(titleStyle.Render("Backends"))
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	table.Headers("Backend", "Description", "Devices", "# Native ops", "DTypes")
	for _, name := range backends.List() {
		b := must.M1(backends.NewWithConfig(backendConfig(name)))
		table.Row(backendRow(b)...)
		b.Finalize()
	}
	fmt.Println(table.Render())
}

// backendRow with the columns of listBackends.
func backendRow(b backends.Backend) []string {
	devices := []string{device.CPU}
	for ii := range b.NumGPUs() {
		devices = append(devices, device.GPU(ii))
	}
	caps := backends.CapabilitiesOf(b)
	return []string{b.Name(), b.Description(), strings.Join(devices, ", "),
		humanize.Comma(int64(len(caps.Operations))),
		strings.Join(b.DTypes().Supported(), ", ")}
}
