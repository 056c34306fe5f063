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

package process

import (
	"fmt"
	"strings"

	"github.com/pintosgo/kernel/internal/addrspace"
	"github.com/pintosgo/kernel/internal/elf"
	"github.com/pintosgo/kernel/internal/inode"
	"github.com/pintosgo/kernel/internal/vm/frame"
)

// stackTopPage is the single user page the initial stack is built in;
// spec §4.D only requires argument passing to work, not a generously
// sized stack, so one page is all Exec pre-populates — further pages
// fault in as ordinary stack growth (spec §4.C).
var stackTopPage = addrspace.PageOf(uint32(addrspace.PhysBase) - frame.PageSize)

// Exec loads cmdline's executable into a freshly created process, wires
// up its address space from the ELF program headers, and builds the
// initial user stack with argc/argv per the standard x86 cdecl
// convention. parent may be nil for the first process. On load failure
// the process is torn down and never registered, so its pid is never
// reused — matching spec §4.D's "exec that fails to load returns -1
// without otherwise disturbing the parent".
func (t *Table) Exec(parent *Process, cmdline string) (*Process, uint32, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, 0, fmt.Errorf("process: empty command line")
	}

	p := t.newProcess(parent, cmdline)

	root, err := t.fs.Root()
	if err != nil {
		return nil, 0, err
	}
	defer root.Close()

	cwd := root
	if parent != nil {
		parent.mu.Lock()
		cwd = parent.cwd
		parent.mu.Unlock()
	}

	exe, err := t.fs.Open(root, cwd, argv[0])
	if err != nil {
		return nil, 0, fmt.Errorf("process: %w", err)
	}

	entry, err := t.loadELF(p, exe)
	if err != nil {
		exe.Close()
		return nil, 0, err
	}
	exe.DenyWrite()
	p.exe = exe

	myCwd, err := t.fs.Open(root, cwd, ".")
	if err != nil {
		exe.AllowWrite()
		exe.Close()
		return nil, 0, err
	}
	p.cwd = myCwd

	esp := t.buildStack(p, argv)
	p.Space.SetESP(esp)

	t.register(p)
	if parent != nil {
		parent.mu.Lock()
		parent.children.Push(p)
		parent.mu.Unlock()
	}

	t.log.Printf("pid %d: loaded %q, entry=%#x esp=%#x", p.pid, cmdline, entry, esp)
	return p, entry, nil
}

// loadELF validates exe as a loadable binary and installs a
// filesystem-backed supplemental page table entry for every page of
// every PT_LOAD segment. No file bytes are actually read here — pages
// are demand-paged on first fault, per spec §4.C "Executable and
// mmap'd-file pages".
func (t *Table) loadELF(p *Process, exe *inode.Inode) (entry uint32, err error) {
	h, err := elf.ReadEhdr(exe)
	if err != nil {
		return 0, err
	}
	segs, err := elf.Segments(exe, h)
	if err != nil {
		return 0, err
	}
	if err := elf.Validate(h, segs); err != nil {
		return 0, err
	}

	for _, seg := range elf.LoadSegments(segs) {
		writable := seg.Flags&elf.PfWrite != 0
		if err := installSegment(p, exe, seg, writable); err != nil {
			return 0, err
		}
	}
	return h.Entry, nil
}

// installSegment walks seg page by page, installing a FromFilesys
// supplemental entry for each. seg.Vaddr need not be page-aligned — the
// first page is padded with leading zero bytes up to Vaddr's offset
// within its page, exactly as Pintos' own loader assumes (it requires
// the file offset and virtual address to agree modulo the page size).
func installSegment(p *Process, exe *inode.Inode, seg elf.Phdr, writable bool) error {
	// elf.Validate has already rejected memsz<filesz, Vaddr==0, and
	// segments wrapping into the kernel range; seg is known safe here.
	if seg.Memsz == 0 {
		return nil
	}
	if seg.Vaddr%frame.PageSize != seg.Offset%frame.PageSize {
		return fmt.Errorf("process: PT_LOAD segment misaligned between file and memory")
	}

	base := addrspace.PageOf(seg.Vaddr)
	end := seg.Vaddr + seg.Memsz
	fileEnd := seg.Vaddr + seg.Filesz

	for page := base; uint32(page) < end; page += frame.PageSize {
		pageAddr := uint32(page)
		pageEnd := pageAddr + frame.PageSize

		ovStart := pageAddr
		if seg.Vaddr > ovStart {
			ovStart = seg.Vaddr
		}
		ovEnd := pageEnd
		if fileEnd < ovEnd {
			ovEnd = fileEnd
		}

		readBytes := 0
		frameOffset := 0
		fileOff := int64(seg.Offset)
		if ovEnd > ovStart {
			readBytes = int(ovEnd - ovStart)
			frameOffset = int(ovStart - pageAddr)
			fileOff = int64(seg.Offset) + int64(ovStart-seg.Vaddr)
		}

		if p.Supt.HasEntry(page) {
			continue
		}
		p.Supt.InstallFile(page, exe, fileOff, frameOffset, readBytes, writable)
	}
	return nil
}

// buildStack writes argv onto p's initial user stack page and returns
// the resulting %esp, following the x86 cdecl layout: the argument
// strings themselves (in reverse order), word-alignment padding, a NULL
// sentinel, the argv pointer array (in reverse order, so argv[0] ends up
// lowest), then argv itself, argc and a fake return address.
func (t *Table) buildStack(p *Process, argv []string) uint32 {
	p.Supt.InstallZero(stackTopPage, true)

	sp := uint32(addrspace.PhysBase)
	ptrs := make([]uint32, len(argv))

	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i] + "\x00"
		sp -= uint32(len(s))
		p.Space.WriteAt(sp, []byte(s))
		ptrs[i] = sp
	}

	sp &^= 3 // word-align

	sp -= 4 // NULL argv terminator
	writeU32(p.Space, sp, 0)

	for i := len(ptrs) - 1; i >= 0; i-- {
		sp -= 4
		writeU32(p.Space, sp, ptrs[i])
	}
	argvAddr := sp

	sp -= 4
	writeU32(p.Space, sp, argvAddr)

	sp -= 4
	writeU32(p.Space, sp, uint32(len(argv)))

	sp -= 4
	writeU32(p.Space, sp, 0) // fake return address

	return sp
}

func writeU32(s *addrspace.Space, addr, v uint32) {
	var buf [4]byte
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	s.WriteAt(addr, buf[:])
}
