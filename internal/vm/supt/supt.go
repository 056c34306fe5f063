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

// Package supt implements the supplemental page table of spec §4.C: the
// per-process record of where each user page's content actually lives —
// nowhere yet (all-zero), in a physical frame, on the swap device, or
// still in a file — independent of whether a frame is currently mapped
// for it.
//
// A Table is the frame.Owner for every page it covers: it answers the
// frame pool's eviction queries by delegating bit inspection to its
// addrspace.Space, and records eviction outcomes by flipping its own
// entries to ON-SWAP, exactly the bridge SPEC_FULL.md §0 describes
// between the simulated MMU and the frame table.
package supt

import (
	"fmt"
	"sync"

	"github.com/pintosgo/kernel/internal/addrspace"
	"github.com/pintosgo/kernel/internal/vm/frame"
	"github.com/pintosgo/kernel/internal/vm/swap"
)

// State is one supplemental page table entry's content source.
type State int

const (
	// AllZero pages are materialized as all-zero on first access and
	// never read from anywhere.
	AllZero State = iota
	// OnFrame pages have a frame currently mapped in the address space.
	OnFrame
	// OnSwap pages' content lives in a swap slot.
	OnSwap
	// FromFilesys pages are (re)read from a backing file on fault.
	FromFilesys
)

// FileBackend is the slice of inode.Inode that supt needs to read
// demand-paged segments and mmap'd files, and to write back dirty
// mmap'd pages — kept as an interface so this package never imports
// internal/process or internal/filesys, honoring the lock-ordering rule
// of spec §5 (frame-table code must never call into the filesystem
// mutex).
type FileBackend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Entry is one page's supplemental bookkeeping.
type Entry struct {
	State    State
	Writable bool
	Dirty    bool // valid only once the page has left OnFrame

	Frame    *frame.Frame
	SwapSlot int

	File        FileBackend
	Offset      int64
	ReadBytes   int
	FrameOffset int // byte offset within the frame where file content starts
}

// Table is one process's supplemental page table.
type Table struct {
	space  *addrspace.Space
	frames *frame.Table
	swap   *swap.Device

	stackBase  frame.UserPage
	stackLimit frame.UserPage

	mu      sync.Mutex
	entries map[frame.UserPage]*Entry
}

// New returns an empty supplemental page table wired to space for bit
// inspection and frames for frame allocation during faults. maxStack
// bounds how far below addrspace.PhysBase the stack may grow.
func New(space *addrspace.Space, frames *frame.Table, sd *swap.Device, maxStack uint32) *Table {
	t := &Table{
		space:      space,
		frames:     frames,
		swap:       sd,
		stackBase:  addrspace.PhysBase,
		stackLimit: addrspace.PhysBase - frame.UserPage(maxStack),
		entries:    make(map[frame.UserPage]*Entry),
	}
	space.Fault = t.PageFault
	return t
}

// --- frame.Owner ---

// Accessed implements frame.Owner by delegating to the address space.
func (t *Table) Accessed(page frame.UserPage) bool { return t.space.Accessed(page) }

// ClearAccessed implements frame.Owner.
func (t *Table) ClearAccessed(page frame.UserPage) { t.space.ClearAccessed(page) }

// Dirty implements frame.Owner.
func (t *Table) Dirty(page frame.UserPage) bool { return t.space.Dirty(page) }

// ClearMapping implements frame.Owner.
func (t *Table) ClearMapping(page frame.UserPage) { t.space.Uninstall(page) }

// Evicted implements frame.Owner: the frame table has already written
// page's content to slot; record that here.
func (t *Table) Evicted(page frame.UserPage, slot int, dirty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[page]
	if !ok {
		panic(fmt.Sprintf("supt: eviction of untracked page %#x", page))
	}
	e.State = OnSwap
	e.SwapSlot = slot
	e.Dirty = dirty
	e.Frame = nil
}

// --- installation ---

// InstallZero registers page as demand-zero.
func (t *Table) InstallZero(page frame.UserPage, writable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[page] = &Entry{State: AllZero, Writable: writable}
}

// InstallFile registers page as backed by file: on fault, frameOffset
// bytes of leading zero padding, then readBytes bytes read from offset,
// then trailing zero padding to fill the page. A page with readBytes ==
// 0 behaves like InstallZero: Unmap writes none of it back to file.
func (t *Table) InstallFile(page frame.UserPage, file FileBackend, offset int64, frameOffset, readBytes int, writable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[page] = &Entry{State: FromFilesys, Writable: writable, File: file, Offset: offset, FrameOffset: frameOffset, ReadBytes: readBytes}
}

// HasEntry reports whether page has any supplemental entry.
func (t *Table) HasEntry(page frame.UserPage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[page]
	return ok
}

// --- fault handling ---

// PageFault is installed as the address space's fault hook. It resolves
// page's content into a freshly allocated frame and installs the
// mapping, implementing the five-step sequence of spec §4.C ("Page
// fault handling").
func (t *Table) PageFault(page frame.UserPage) bool {
	t.mu.Lock()
	e, ok := t.entries[page]
	t.mu.Unlock()

	if !ok {
		if !t.isStackGrowth(page) {
			return false
		}
		e = &Entry{State: AllZero, Writable: true}
		t.mu.Lock()
		t.entries[page] = e
		t.mu.Unlock()
	}

	fr, err := t.frames.Allocate(t, page)
	if err != nil {
		return false
	}

	switch e.State {
	case AllZero:
		for i := range fr.Data {
			fr.Data[i] = 0
		}
	case OnSwap:
		t.swap.In(e.SwapSlot, fr.Data[:])
		t.swap.Free(e.SwapSlot)
	case FromFilesys:
		for i := 0; i < e.FrameOffset; i++ {
			fr.Data[i] = 0
		}
		n, err := e.File.ReadAt(fr.Data[e.FrameOffset:e.FrameOffset+e.ReadBytes], e.Offset)
		if err != nil && n == 0 && e.ReadBytes > 0 {
			t.frames.Free(fr)
			return false
		}
		for i := e.FrameOffset + n; i < len(fr.Data); i++ {
			fr.Data[i] = 0
		}
	case OnFrame:
		// Already mapped; nothing to materialize.
	}

	t.space.Install(page, fr, e.Writable)

	t.mu.Lock()
	e.State = OnFrame
	e.Frame = fr
	t.mu.Unlock()

	t.space.ClearAccessed(page)
	t.frames.Unpin(fr)
	return true
}

// isStackGrowth reports whether a fault at page, given the address
// space's last recorded stack pointer, should be treated as automatic
// stack growth (spec §4.C): within the stack region and not absurdly far
// below the current stack pointer.
func (t *Table) isStackGrowth(page frame.UserPage) bool {
	if page >= t.stackBase || page < t.stackLimit {
		return false
	}
	esp := t.space.ESP()
	const slack = 32 // accommodates PUSHA's worst-case pre-fault distance
	// The hook sees only the page, not the faulting address, so the test
	// is whether any byte of page lies at or above esp-slack.
	return int64(page)+int64(PageSize) > int64(esp)-slack
}

const PageSize = frame.PageSize

// --- teardown and unmap ---

// Unmap writes back and releases the named pages, used by munmap (spec
// §4.D): dirty ON-FRAME or ON-SWAP pages are flushed to their backing
// file before the frame or swap slot is released and the entry dropped.
func (t *Table) Unmap(pages []frame.UserPage) {
	for _, p := range pages {
		t.unmapOne(p)
	}
}

func (t *Table) unmapOne(page frame.UserPage) {
	t.mu.Lock()
	e, ok := t.entries[page]
	t.mu.Unlock()
	if !ok {
		return
	}

	switch e.State {
	case OnFrame:
		dirty := e.Dirty || t.space.Dirty(page)
		if dirty && e.File != nil && e.ReadBytes > 0 {
			e.File.WriteAt(e.Frame.Data[e.FrameOffset:e.FrameOffset+e.ReadBytes], e.Offset)
		}
		t.space.Uninstall(page)
		t.frames.Free(e.Frame)
	case OnSwap:
		scratch := make([]byte, PageSize)
		t.swap.In(e.SwapSlot, scratch)
		if e.Dirty && e.File != nil && e.ReadBytes > 0 {
			e.File.WriteAt(scratch[e.FrameOffset:e.FrameOffset+e.ReadBytes], e.Offset)
		}
		t.swap.Free(e.SwapSlot)
	case AllZero, FromFilesys:
		// Never materialized; nothing to flush or free.
	}

	t.mu.Lock()
	delete(t.entries, page)
	t.mu.Unlock()
}

// Destroy tears down every remaining entry without writing anything
// back, for process exit on pages that were not memory-mapped (spec
// §4.D: "ordinary, non-mmap'd pages are simply discarded on exit").
// ON-FRAME and ON-SWAP pages still need their physical resources
// reclaimed explicitly, since this simulation has no page directory
// whose teardown would reclaim them implicitly (see DESIGN.md).
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for page, e := range t.entries {
		switch e.State {
		case OnFrame:
			t.space.Uninstall(page)
			t.frames.Free(e.Frame)
		case OnSwap:
			t.swap.Free(e.SwapSlot)
		}
		delete(t.entries, page)
	}
}

// DestroyMapped is like Destroy but first writes back any mmap'd page
// found dirty, for process exit while memory maps are still open (spec
// §4.D mandates munmap's write-back semantics apply here too).
func (t *Table) DestroyMapped(pages []frame.UserPage) {
	t.Unmap(pages)
	t.Destroy()
}
