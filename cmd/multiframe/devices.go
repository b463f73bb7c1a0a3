// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/multiframe/pkg/core/device"
	"github.com/janpfeifer/must"
)

const bytesPerGB = 1e9

func gbToBytes(gb float64) string { return humanize.Bytes(uint64(gb * bytesPerGB)) }

// listDevices prints the host telemetry. There is no GPU probe in this tool, so only the cpu is listed.
func listDevices() {
	monitor := device.NewHostMonitor()
	fmt.Println(titleStyle.Render("Devices"))
	table := newPlainTable(lipgloss.Left, lipgloss.Right)
	table.Headers("Device", "Cores", "Total memory", "Used memory", "Used %", "Utilization %")

	dev := device.CPU
	cores := must.M1(device.NumCPUCores())
	total := must.M1(monitor.TotalMem(dev))
	used := must.M1(monitor.UsedMem(dev))
	percent := must.M1(monitor.PercentUsedMem(dev))
	util := must.M1(monitor.Util(dev))
	table.Row(dev, humanize.Comma(int64(cores)), gbToBytes(total), gbToBytes(used),
		fmt.Sprintf("%.1f", percent), fmt.Sprintf("%.1f", util))

	monitor.ProcessSpecific = true
	rss := must.M1(monitor.UsedMem(dev))
	table.Row(dev+" (this process)", "", "", gbToBytes(rss),
		fmt.Sprintf("%.2f", rss/total*100), "")
	fmt.Println(table.Render())
}
