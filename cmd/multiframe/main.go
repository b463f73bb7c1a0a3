// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// multiframe inspects the registered framework backends, the host devices, and runs a simulated device
// tuning session.
//
// Usage:
//
//	multiframe [flags] backends|devices|tune
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	_ "github.com/gomlx/multiframe/backends/default"
	"k8s.io/klog/v2"
)

var (
	flagGPUs = flag.Int("gpus", 2, "Number of simulated GPUs configured on the GPU capable backends.")
	flagDim  = flag.Int("dim", 64, "Size of the dimension distributed across devices by 'tune'.")
	flagSlow = flag.Float64("slowdown", 4, "How many times slower the first device is than the second one, for 'tune'.")

	flagMaxSteps = flag.Int("max_steps", 500, "Maximum number of tuning steps for 'tune'.")

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

var commands = map[string]func(){
	"backends": listBackends,
	"devices":  listDevices,
	"tune":     tune,
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] backends|devices|tune\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one command. See 'multiframe -help'.")
		os.Exit(1)
	}
	cmd, found := commands[args[0]]
	if !found {
		klog.Errorf("Unknown command %q. See 'multiframe -help'.", args[0])
		os.Exit(1)
	}
	cmd()
}
