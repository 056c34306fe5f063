// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg is the kernel's boot configuration: every tunable named in
// spec §3 and §4 (filesystem disk size, frame pool size, swap device
// size, maximum stack growth) plus the debug switches of spec §9, bound from
// command-line flags the way gcsfuse's generated cfg.Config binds its
// mount flags — pflag.FlagSet for parsing, viper for layering flags over
// a config file, decoded into this struct.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved boot configuration for one kernel
// instance.
type Config struct {
	// DiskPath is the backing file for the filesystem's block device,
	// created zero-filled if it does not already exist.
	DiskPath string `yaml:"disk-path"`

	// SwapPath is the backing file for the swap device.
	SwapPath string `yaml:"swap-path"`

	Disk ByteSize `yaml:"disk-size"`
	Swap ByteSize `yaml:"swap-size"`

	VM VMConfig `yaml:"vm"`

	Debug DebugConfig `yaml:"debug"`
}

// VMConfig controls the virtual memory subsystem of spec §4.C.
type VMConfig struct {
	// Frames is the number of physical frames in the shared pool every
	// process's pages are loaded into and evicted from.
	Frames int `yaml:"frames"`

	// MaxStack bounds how far a process's stack may grow downward from
	// PHYS_BASE before a fault past it is treated as a real access
	// violation rather than stack growth.
	MaxStack ByteSize `yaml:"max-stack"`
}

// DebugConfig controls the invariant-checking and logging behavior of
// spec §9.
type DebugConfig struct {
	// ExitOnInvariantViolation is bound from its flag but is not read by
	// kernel.Boot or any subsystem; detected invariant violations (e.g.
	// frame-table corruption) panic whatever its value.
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	// LogEviction turns on internal/vm/frame's eviction tracing.
	LogEviction bool `yaml:"log-eviction"`

	// LogFilesys enables internal/filesys's "fs" logger; internal/filesys
	// writes no lines to it, so this switch produces no output.
	LogFilesys bool `yaml:"log-filesys"`

	// LogProcess turns on internal/process's exec/exit tracing.
	LogProcess bool `yaml:"log-process"`
}

// BindFlags registers every Config field as a pflag and binds it into
// viper, matching gcsfuse's cfg.BindFlags idiom of one StringP/IntP/BoolP
// call per field followed by a viper.BindPFlag.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("disk-path", "", "disk.img", "Path to the filesystem disk image.")
	if err = viper.BindPFlag("disk-path", flagSet.Lookup("disk-path")); err != nil {
		return err
	}

	flagSet.StringP("swap-path", "", "swap.img", "Path to the swap device image.")
	if err = viper.BindPFlag("swap-path", flagSet.Lookup("swap-path")); err != nil {
		return err
	}

	flagSet.StringP("disk-size", "", "8mb", "Size of the filesystem disk image, created if it does not exist.")
	if err = viper.BindPFlag("disk-size", flagSet.Lookup("disk-size")); err != nil {
		return err
	}

	flagSet.StringP("swap-size", "", "4mb", "Size of the swap device image, created if it does not exist.")
	if err = viper.BindPFlag("swap-size", flagSet.Lookup("swap-size")); err != nil {
		return err
	}

	flagSet.IntP("vm.frames", "", 64, "Number of physical frames in the shared frame pool.")
	if err = viper.BindPFlag("vm.frames", flagSet.Lookup("vm.frames")); err != nil {
		return err
	}

	flagSet.StringP("vm.max-stack", "", "1mb", "Maximum size a process's stack may grow to.")
	if err = viper.BindPFlag("vm.max-stack", flagSet.Lookup("vm.max-stack")); err != nil {
		return err
	}

	flagSet.BoolP("debug.exit-on-invariant-violation", "", false, "Panic immediately when an internal invariant is violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug.exit-on-invariant-violation")); err != nil {
		return err
	}

	flagSet.BoolP("debug.log-eviction", "", false, "Log frame eviction decisions.")
	if err = viper.BindPFlag("debug.log-eviction", flagSet.Lookup("debug.log-eviction")); err != nil {
		return err
	}

	flagSet.BoolP("debug.log-filesys", "", false, "Log filesystem operations.")
	if err = viper.BindPFlag("debug.log-filesys", flagSet.Lookup("debug.log-filesys")); err != nil {
		return err
	}

	flagSet.BoolP("debug.log-process", "", false, "Log process exec/exit lifecycle events.")
	if err = viper.BindPFlag("debug.log-process", flagSet.Lookup("debug.log-process")); err != nil {
		return err
	}

	return nil
}
