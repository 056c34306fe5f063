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

	"github.com/pintosgo/kernel/internal/addrspace"
	"github.com/pintosgo/kernel/internal/vm/frame"
)

// Mmap maps fd's file into p's address space starting at addr, one
// supplemental page table entry per page, per the MMAP syscall (spec
// §4.D / §4.C). It fails if fd is a directory, the file is empty, addr
// is zero or not page-aligned, or the requested range overlaps any
// existing mapping.
func (t *Table) Mmap(p *Process, fd int, addr uint32) (mapID int, err error) {
	h, ok := p.fd(fd)
	if !ok {
		return -1, fmt.Errorf("process: fd %d not open", fd)
	}
	if h.dir != nil {
		return -1, fmt.Errorf("process: cannot mmap a directory")
	}
	if addr == 0 || addr%frame.PageSize != 0 {
		return -1, fmt.Errorf("process: mmap address must be page-aligned and non-null")
	}

	length := h.ino.Length()
	if length == 0 {
		return -1, fmt.Errorf("process: cannot mmap an empty file")
	}

	numPages := int((length + frame.PageSize - 1) / frame.PageSize)
	pages := make([]frame.UserPage, numPages)
	for i := range pages {
		page := frame.UserPage(addr) + frame.UserPage(i*frame.PageSize)
		if page >= addrspace.PhysBase {
			return -1, fmt.Errorf("process: mapping runs past the top of user memory")
		}
		if p.Supt.HasEntry(page) {
			return -1, fmt.Errorf("process: mapping overlaps an existing page")
		}
		pages[i] = page
	}

	mmapIno, err := t.fs.Reopen(h.ino)
	if err != nil {
		return -1, err
	}

	for i, page := range pages {
		off := int64(i) * frame.PageSize
		readBytes := frame.PageSize
		if off+int64(readBytes) > length {
			readBytes = int(length - off)
		}
		p.Supt.InstallFile(page, mmapIno, off, 0, readBytes, true)
	}

	p.mu.Lock()
	id := p.nextMapID
	p.nextMapID++
	p.mmaps[id] = &mapping{id: id, file: mmapIno, pages: pages}
	p.mu.Unlock()
	return id, nil
}

// Munmap unmaps mapID, writing back any dirty pages, per the MUNMAP
// syscall.
func (t *Table) Munmap(p *Process, mapID int) error {
	p.mu.Lock()
	m, ok := p.mmaps[mapID]
	if ok {
		delete(p.mmaps, mapID)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("process: invalid mapid %d", mapID)
	}

	p.Supt.Unmap(m.pages)
	return m.file.Close()
}
