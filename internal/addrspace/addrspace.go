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

// Package addrspace is the simulated MMU described in SPEC_FULL.md §0: in
// place of a real x86 page directory, GDT, and page-fault trap, each
// process owns a Space — a map from user page to page-table entry,
// carrying the present/writable/accessed/dirty bits the eviction and
// page-fault logic of spec §4.C need, plus the "probe user pointer"
// primitives spec §4.D's syscall layer uses to validate arguments
// instead of relying on a hardware fault.
package addrspace

import (
	"sync"

	"github.com/pintosgo/kernel/internal/vm/frame"
)

// PageSize mirrors frame.PageSize; user addresses below are plain
// 32-bit values, matching the x86 user address space this simulates.
const PageSize = frame.PageSize

// PhysBase is the simulated top of user address space (x86's 3GiB/1GiB
// split). No user page may be installed at or above it.
const PhysBase = frame.UserPage(0xC0000000)

// PageOf rounds addr down to its containing page.
func PageOf(addr uint32) frame.UserPage {
	return frame.UserPage(addr &^ (PageSize - 1))
}

// entry is one simulated page-table entry.
type entry struct {
	present  bool
	writable bool
	accessed bool
	dirty    bool
	frame    *frame.Frame
}

// Space is one process's address space.
type Space struct {
	mu    sync.Mutex
	pages map[frame.UserPage]*entry
	esp   uint32

	// Fault is invoked on an access to an unmapped (or not-yet-present)
	// page; it must install a mapping via Install and return true, or
	// return false if the address genuinely has no backing (segfault).
	// Wired by internal/vm/supt to its PageFault method.
	Fault func(page frame.UserPage) bool
}

// New returns an empty address space.
func New() *Space {
	return &Space{pages: make(map[frame.UserPage]*entry)}
}

// SetESP records the user stack pointer at the most recent syscall or
// trap boundary, used by stack-growth heuristics (spec §4.C, "within a
// small distance of the current stack pointer").
func (s *Space) SetESP(esp uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.esp = esp
}

// ESP returns the last recorded stack pointer.
func (s *Space) ESP() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.esp
}

// Install maps page to fr, present and with the given write permission,
// clearing accessed/dirty.
func (s *Space) Install(page frame.UserPage, fr *frame.Frame, writable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page] = &entry{present: true, writable: writable, frame: fr}
}

// Uninstall removes page's mapping entirely.
func (s *Space) Uninstall(page frame.UserPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, page)
}

// Accessed implements frame.Owner.
func (s *Space) Accessed(page frame.UserPage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[page]
	return ok && e.accessed
}

// ClearAccessed implements frame.Owner.
func (s *Space) ClearAccessed(page frame.UserPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pages[page]; ok {
		e.accessed = false
	}
}

// Dirty implements frame.Owner, OR-ing the user-virtual dirty bit with
// the frame's own kernel-virtual dirty bit (set when kernel code writes
// frame content directly, bypassing the user mapping).
func (s *Space) Dirty(page frame.UserPage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[page]
	if !ok {
		return false
	}
	return e.dirty || e.frame.KernelDirty
}

// ClearMapping implements frame.Owner.
func (s *Space) ClearMapping(page frame.UserPage) {
	s.Uninstall(page)
}

// Present reports whether page currently has a mapping.
func (s *Space) Present(page frame.UserPage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[page]
	return ok && e.present
}

// FrameOf returns the frame currently backing page, if any.
func (s *Space) FrameOf(page frame.UserPage) (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[page]
	if !ok || !e.present {
		return nil, false
	}
	return e.frame, true
}

// access resolves addr, faulting it in via Fault if necessary, and marks
// the accessed/dirty bits. It reports whether the access is legal.
func (s *Space) access(addr uint32, write bool) bool {
	if addr == 0 || frame.UserPage(addr) >= PhysBase {
		return false
	}
	page := PageOf(addr)

	s.mu.Lock()
	e, ok := s.pages[page]
	s.mu.Unlock()

	if !ok || !e.present {
		if s.Fault == nil || !s.Fault(page) {
			return false
		}
		s.mu.Lock()
		e, ok = s.pages[page]
		s.mu.Unlock()
		if !ok {
			return false
		}
	}
	if write && !e.writable {
		return false
	}

	s.mu.Lock()
	e.accessed = true
	if write {
		e.dirty = true
	}
	s.mu.Unlock()
	return true
}

// ProbeByte reports whether addr is a legally readable user address,
// forcing a page-in if necessary — the simulated stand-in for "let the
// hardware fault and see if it recovers".
func (s *Space) ProbeByte(addr uint32) bool {
	return s.access(addr, false)
}

// ProbeWriteByte reports whether addr is a legally writable user
// address.
func (s *Space) ProbeWriteByte(addr uint32) bool {
	return s.access(addr, true)
}

// ProbeBuffer reports whether the n-byte range starting at addr is
// entirely legal, per spec's "probed at both endpoints, then the whole
// range is paged in" buffer validation rule.
func (s *Space) ProbeBuffer(addr uint32, n int, write bool) bool {
	if n <= 0 {
		return true
	}
	end := addr + uint32(n) - 1
	if !s.access(addr, write) || !s.access(end, write) {
		return false
	}
	for p := PageOf(addr) + PageSize; uint32(p) < end; p += PageSize {
		if !s.access(uint32(p), write) {
			return false
		}
	}
	return true
}

// ProbeCString validates a NUL-terminated string starting at addr,
// byte by byte, up to maxLen bytes. It reports the string's length
// (excluding the NUL) and whether the whole scan was legal.
func (s *Space) ProbeCString(addr uint32, maxLen int) (length int, ok bool) {
	for i := 0; i < maxLen; i++ {
		a := addr + uint32(i)
		if !s.access(a, false) {
			return 0, false
		}
		fr, present := s.FrameOf(PageOf(a))
		if !present {
			return 0, false
		}
		if fr.Data[a%PageSize] == 0 {
			return i, true
		}
	}
	return 0, false
}

// ReadAt copies len(buf) bytes starting at addr out of user memory,
// faulting in pages as needed. It reports whether the whole range was
// legal.
func (s *Space) ReadAt(addr uint32, buf []byte) bool {
	for i := range buf {
		a := addr + uint32(i)
		if !s.access(a, false) {
			return false
		}
		fr, _ := s.FrameOf(PageOf(a))
		buf[i] = fr.Data[a%PageSize]
	}
	return true
}

// WriteAt copies buf into user memory starting at addr, faulting in
// pages as needed. It reports whether the whole range was legal.
func (s *Space) WriteAt(addr uint32, buf []byte) bool {
	for i, b := range buf {
		a := addr + uint32(i)
		if !s.access(a, true) {
			return false
		}
		fr, _ := s.FrameOf(PageOf(a))
		fr.Data[a%PageSize] = b
	}
	return true
}
