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

// Package kernel is the top-level boot sequence: it wires a block
// device, the filesystem, the virtual memory subsystem, and the process
// table together in the dependency order spec §0 and §5 require (block
// device under buffer cache under inode/directory layer under filesys;
// frame pool and swap device under the supplemental page table under the
// process table), then drives one exec/wait cycle for the kernel's
// first process — Pintos' "run" command.
//
// Grounded on cmd/root.go and cmd/mount.go's boot sequence: parse flags
// into a cfg.Config, validate it, then construct the subsystems the
// resolved config calls for.
package kernel

import (
	"fmt"
	"os"

	"github.com/pintosgo/kernel/cfg"
	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/filesys"
	"github.com/pintosgo/kernel/internal/klog"
	"github.com/pintosgo/kernel/internal/process"
	"github.com/pintosgo/kernel/internal/syscallabi"
	"github.com/pintosgo/kernel/internal/vm/swap"
)

// Kernel is one booted instance: one mounted filesystem, one shared VM
// subsystem, one process table, one syscall dispatcher.
type Kernel struct {
	cfg cfg.Config

	disk    *blockdev.FileDevice
	swapDev *blockdev.FileDevice

	fs       *filesys.FS
	procs    *process.Table
	syscalls *syscallabi.Server
}

// Boot validates c, opens (or formats) its disk and swap images, and
// wires the filesystem, VM, and process layers on top of them.
func Boot(c cfg.Config) (*Kernel, error) {
	if err := cfg.ValidateConfig(&c); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	if c.Debug.LogEviction {
		klog.Enable("frame")
	}
	if c.Debug.LogFilesys {
		klog.Enable("fs")
	}
	if c.Debug.LogProcess {
		klog.Enable("process")
	}

	diskSectors := uint32(c.Disk / blockdev.SectorSize)
	if diskSectors == 0 {
		diskSectors = 1
	}
	disk, err := blockdev.OpenFileDevice(c.DiskPath, diskSectors)
	if err != nil {
		return nil, fmt.Errorf("kernel: opening disk image: %w", err)
	}

	swapSectors := uint32(c.Swap / blockdev.SectorSize)
	if swapSectors == 0 {
		swapSectors = 1
	}
	swapRaw, err := blockdev.OpenFileDevice(c.SwapPath, swapSectors)
	if err != nil {
		disk.Close()
		return nil, fmt.Errorf("kernel: opening swap image: %w", err)
	}

	fs, err := mountOrFormat(disk)
	if err != nil {
		disk.Close()
		swapRaw.Close()
		return nil, err
	}

	swapDev := swap.New(swapRaw)
	maxStack := uint32(c.VM.MaxStack)
	procs := process.NewTable(fs, c.VM.Frames, swapDev, maxStack)

	syscalls := syscallabi.NewServer(procs)
	syscalls.Stdout = func(p []byte) { os.Stdout.Write(p) }

	return &Kernel{
		cfg:      c,
		disk:     disk,
		swapDev:  swapRaw,
		fs:       fs,
		procs:    procs,
		syscalls: syscalls,
	}, nil
}

// mountOrFormat mounts dev as an already-formatted filesystem, falling
// back to formatting it fresh if its free-map inode doesn't carry a
// valid magic number — the disk-image equivalent of Pintos' "-f"
// format-on-boot flag, applied automatically rather than by an explicit
// switch, since this kernel has no interactive installer.
func mountOrFormat(dev blockdev.Device) (*filesys.FS, error) {
	if fs, err := filesys.Mount(dev); err == nil {
		return fs, nil
	}
	fs, err := filesys.Format(dev)
	if err != nil {
		return nil, fmt.Errorf("kernel: formatting disk image: %w", err)
	}
	return fs, nil
}

// Syscalls returns the kernel's syscall dispatcher, for a trampoline
// layer to drive.
func (k *Kernel) Syscalls() *syscallabi.Server { return k.syscalls }

// Processes returns the kernel's process table.
func (k *Kernel) Processes() *process.Table { return k.procs }

// Filesystem returns the kernel's mounted filesystem, for tooling that
// needs to seed files before a run (e.g. copying an executable onto a
// freshly formatted disk image).
func (k *Kernel) Filesystem() *filesys.FS { return k.fs }

// Shutdown flushes the filesystem's buffer cache and releases the disk
// and swap image files, per spec §5's "filesystem must be flushed to
// disk on ... HALT".
func (k *Kernel) Shutdown() {
	k.fs.Shutdown()
	k.disk.Close()
	k.swapDev.Close()
}

// Run execs cmdline as the kernel's first (parentless) process, waits
// for it to exit, and returns its exit code — the single-command
// "pintos run" workflow spec §4.D's Exec/Wait/Exit triple exists to
// support.
func (k *Kernel) Run(cmdline string) (exitCode int, err error) {
	p, _, err := k.procs.Exec(nil, cmdline)
	if err != nil {
		return -1, fmt.Errorf("kernel: %w", err)
	}
	return p.AwaitExit(), nil
}
