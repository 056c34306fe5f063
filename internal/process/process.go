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

// Package process implements the process layer of spec §4.D: one
// address space, one open-file table, one set of memory mappings, and
// exec/wait/exit lifecycle semantics per process, on top of
// internal/filesys for file access and internal/addrspace,
// internal/vm/frame, and internal/vm/supt for its virtual memory.
//
// Grounded on gcsproxy/mutable_object.go's ownership model: one
// goroutine-safe handle per resource, with a mutex guarding the fields
// that change after creation. A process's child list is an
// internal/common.Queue, the same FIFO-with-removal structure the frame
// table uses for its clock list.
package process

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pintosgo/kernel/clock"
	"github.com/pintosgo/kernel/internal/addrspace"
	"github.com/pintosgo/kernel/internal/common"
	"github.com/pintosgo/kernel/internal/filesys"
	"github.com/pintosgo/kernel/internal/fsdir"
	"github.com/pintosgo/kernel/internal/inode"
	"github.com/pintosgo/kernel/internal/klog"
	"github.com/pintosgo/kernel/internal/vm/frame"
	"github.com/pintosgo/kernel/internal/vm/supt"
	"github.com/pintosgo/kernel/internal/vm/swap"
)

// Clock is the time source the process table needs: a source
// of wall-clock timestamps for lifecycle logging, swappable for a
// clock.SimulatedClock in tests.
type Clock interface {
	Now() time.Time
}

// Pid identifies a process. 0 is never a valid pid.
type Pid int32

// firstFD is the lowest fd number handed out; 0/1/2 are reserved for
// stdin/stdout/stderr, which this kernel treats as special-cased in the
// syscall layer rather than as filesystem handles.
const firstFD = 3

type fileHandle struct {
	ino *inode.Inode
	dir *fsdir.Dir // non-nil if ino.IsDir()

	mu      sync.Mutex
	pos     int64
	readPos int // next index into dir.List() for READDIR
}

type mapping struct {
	id    int
	file  *inode.Inode
	pages []frame.UserPage
}

// Process is one running (or exited-but-not-yet-waited-on) process.
type Process struct {
	pid     Pid
	cmdline string
	table   *Table

	Space *addrspace.Space
	Supt  *supt.Table

	mu        sync.Mutex
	cwd       *inode.Inode
	exe       *inode.Inode // deny-write held for the process's lifetime
	fds       map[int]*fileHandle
	nextFD    int
	mmaps     map[int]*mapping
	nextMapID int

	parent   *Process
	children common.Queue[*Process]
	waited   map[Pid]bool

	exitCode int
	exited   bool
	done     chan struct{}
}

// Table is the kernel-wide process registry: it owns the shared frame
// pool and swap device every process's supplemental page table draws
// from, and the filesystem every process's file descriptors resolve
// through.
type Table struct {
	fs     *filesys.FS
	frames *frame.Table
	swap   *swap.Device

	maxStack uint32
	clock    Clock
	console  func(string)

	mu      sync.Mutex
	nextPid Pid
	byPid   map[Pid]*Process
	log     *log.Logger
}

// NewTable wires a process table to fs for file access and a fresh
// frame pool of frameCount frames backed by swap over swapDev.
func NewTable(fs *filesys.FS, frameCount int, swapDev *swap.Device, maxStack uint32) *Table {
	return &Table{
		fs:       fs,
		frames:   frame.New(frameCount, swapDev),
		swap:     swapDev,
		maxStack: maxStack,
		clock:    clock.RealClock{},
		console:  func(s string) { os.Stdout.WriteString(s) },
		nextPid:  1,
		byPid:    make(map[Pid]*Process),
		log:      klog.New("process"),
	}
}

// SetClock overrides the table's time source, used by tests to pin
// lifecycle log timestamps to a clock.SimulatedClock.
func (t *Table) SetClock(c Clock) { t.clock = c }

// SetConsole overrides the table's console sink, used by tests to
// capture exit-line output instead of writing to the real stdout.
func (t *Table) SetConsole(w func(string)) { t.console = w }

func (t *Table) allocPid() Pid {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.nextPid
	t.nextPid++
	return p
}

func (t *Table) register(p *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPid[p.pid] = p
}

func (t *Table) lookup(pid Pid) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byPid[pid]
	return p, ok
}

// Lookup returns the process registered under pid, if any. Used by the
// kernel to find the Process to drive after SYS_EXEC hands back a
// child's pid.
func (t *Table) Lookup(pid Pid) (*Process, bool) {
	return t.lookup(pid)
}

// Pid returns p's process id.
func (p *Process) Pid() Pid { return p.pid }

// Cmdline returns the command line p was started with.
func (p *Process) Cmdline() string { return p.cmdline }

// newProcess builds a bare Process (no address space content yet) with
// fresh VM plumbing, used by Exec before the loader runs.
func (t *Table) newProcess(parent *Process, cmdline string) *Process {
	space := addrspace.New()
	st := supt.New(space, t.frames, t.swap, t.maxStack)

	p := &Process{
		pid:       t.allocPid(),
		cmdline:   cmdline,
		table:     t,
		Space:     space,
		Supt:      st,
		fds:       make(map[int]*fileHandle),
		nextFD:    firstFD,
		mmaps:     make(map[int]*mapping),
		nextMapID: 1, // 0 is never a valid map id, matching firstFD reserving 0-2
		parent:    parent,
		children:  common.NewQueue[*Process](),
		waited:    make(map[Pid]bool),
		done:      make(chan struct{}),
	}
	return p
}

// addFD installs h under a fresh descriptor number.
func (p *Process) addFD(h *fileHandle) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	fd := p.nextFD
	p.nextFD++
	p.fds[fd] = h
	return fd
}

func (p *Process) fd(fd int) (*fileHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.fds[fd]
	return h, ok
}

func (p *Process) closeFD(fd int) error {
	p.mu.Lock()
	h, ok := p.fds[fd]
	delete(p.fds, fd)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("process: fd %d not open", fd)
	}
	return h.ino.Close()
}
