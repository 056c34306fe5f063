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

// Package frame implements the physical frame pool of spec §4.C: a fixed
// pool of page-sized buffers, allocated to user pages on demand, evicted
// with the clock / second-chance algorithm when the pool is exhausted.
//
// Per §0 of SPEC_FULL.md, there is no real MMU here: a Frame's "kernel
// page" identity is the *Frame pointer itself, and the frame table asks
// its current Owner (typically the supplemental page table of the
// process the frame is mapped into) to inspect and clear access/dirty
// bits and to record eviction outcomes, instead of walking a page
// directory.
package frame

import (
	"log"
	"sync"

	"github.com/pintosgo/kernel/internal/common"
	"github.com/pintosgo/kernel/internal/klog"
	"github.com/pintosgo/kernel/internal/vm/swap"
)

// PageSize is the size, in bytes, of one frame — and of one user page.
const PageSize = 4096

// UserPage is a page-aligned user-virtual address.
type UserPage uint32

// Owner is implemented by whatever currently has a frame mapped — in
// practice a process's supplemental page table. The frame table calls
// back into it during eviction instead of consulting a real page
// directory.
type Owner interface {
	// Accessed reports the accessed bit for page and ClearAccessed
	// clears it, per the clock algorithm's second-chance sweep.
	Accessed(page UserPage) bool
	ClearAccessed(page UserPage)

	// Dirty reports the OR of the dirty bit under the user-virtual and
	// kernel-virtual aliases of page.
	Dirty(page UserPage) bool

	// ClearMapping removes page's mapping so no further access can race
	// with eviction.
	ClearMapping(page UserPage)

	// Evicted is called once page's content has safely reached slot on
	// the swap device; the owner must update its supplemental page
	// table entry to ON-SWAP.
	Evicted(page UserPage, slot int, dirty bool)
}

// Frame is one page-sized buffer in the pool.
type Frame struct {
	Data [PageSize]byte

	// KernelDirty is the dirty bit of the kernel alias, for writes to
	// Data that bypass a user mapping. Owners OR this into their Dirty
	// result. Allocate clears it; no code in this module sets it, so it
	// is always false.
	KernelDirty bool

	idx      int // this frame's index in Table.frames, fixed at New
	inUse    bool
	pinned   bool
	owner    Owner
	userPage UserPage
}

// Table is the global frame pool: a fixed array of Frames, a clock
// queue, and one mutex, exactly as spec §5 describes ("frame-table
// mutex: protects frame hash, frame list, clock cursor"). The clock
// cursor is realized as a FIFO of frame indices: a claimed frame is
// pushed to the back, and the second-chance sweep pops from the front,
// requeuing anything it gives a second chance to.
type Table struct {
	swap *swap.Device
	log  *log.Logger

	mu     sync.Mutex
	frames []Frame
	queue  common.Queue[int]
}

// New returns a frame pool of n frames backed by sd for eviction.
func New(n int, sd *swap.Device) *Table {
	t := &Table{swap: sd, frames: make([]Frame, n), log: klog.New("frame"), queue: common.NewQueue[int]()}
	for i := range t.frames {
		t.frames[i].idx = i
	}
	return t
}

// NumFrames returns the pool's fixed capacity.
func (t *Table) NumFrames() int {
	return len(t.frames)
}

// Allocate returns a frame for owner/page, pinned so it cannot be
// evicted until the caller calls Unpin. If the pool is full, a victim is
// chosen via clock / second-chance eviction (spec §4.C). Allocate panics
// if no victim can be found — the spec's own contract for this
// condition ("out of memory") — which in practice means every frame is
// pinned.
func (t *Table) Allocate(owner Owner, page UserPage) (*Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.frames {
		if !t.frames[i].inUse {
			return t.claimLocked(i, owner, page), nil
		}
	}

	victim := t.selectVictimLocked()
	t.evictLocked(victim)
	return t.claimLocked(victim, owner, page), nil
}

func (t *Table) claimLocked(i int, owner Owner, page UserPage) *Frame {
	f := &t.frames[i]
	f.inUse = true
	f.pinned = true
	f.owner = owner
	f.userPage = page
	f.KernelDirty = false
	t.queue.Push(i)
	return f
}

func eqInt(a, b int) bool { return a == b }

// selectVictimLocked implements the clock sweep of spec §4.C as a FIFO
// walk: pop a candidate from the front of the queue; a pinned frame or
// one with its accessed bit set is given a second chance and pushed
// back to the end, the latter after its accessed bit is cleared. Panics
// if no victim turns up within a generous bound, which only fires if
// every frame is pinned.
func (t *Table) selectVictimLocked() int {
	limit := 2*len(t.frames) + 4
	for i := 0; i < limit; i++ {
		if t.queue.IsEmpty() {
			panic("frame: out of memory, no eviction candidate found")
		}
		idx := t.queue.Pop()
		f := &t.frames[idx]
		if f.pinned {
			t.queue.Push(idx)
			continue
		}
		if f.owner.Accessed(f.userPage) {
			f.owner.ClearAccessed(f.userPage)
			t.queue.Push(idx)
			continue
		}
		return idx
	}
	panic("frame: out of memory, no eviction candidate found")
}

func (t *Table) evictLocked(idx int) {
	f := &t.frames[idx]
	dirty := f.owner.Dirty(f.userPage)
	f.owner.ClearMapping(f.userPage)

	slot := t.swap.Out(f.Data[:])
	f.owner.Evicted(f.userPage, slot, dirty)

	t.log.Printf("evicted frame %d (page=%#x dirty=%v) to swap slot %d", idx, f.userPage, dirty, slot)

	f.inUse = false
	f.pinned = false
	f.owner = nil
}

// Free releases fr back to the pool without writing it anywhere. Used
// both for ordinary unmap paths and for process teardown, where — unlike
// a real kernel that reclaims every frame implicitly by freeing the
// whole page directory — this simulated pool needs each frame returned
// explicitly (see SPEC_FULL.md §0; documented as a deliberate deviation
// in DESIGN.md).
func (t *Table) Free(fr *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fr.inUse = false
	fr.pinned = false
	fr.owner = nil
	t.queue.Remove(fr.idx, eqInt)
}

// Pin marks fr ineligible for eviction.
func (t *Table) Pin(fr *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fr.pinned = true
}

// Unpin marks fr eligible for eviction again.
func (t *Table) Unpin(fr *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fr.pinned = false
}
