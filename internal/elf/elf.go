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

// Package elf parses the 32-bit ELF executables spec §4.D's loader
// accepts: just enough of the header and program header table to
// validate the binary and hand its PT_LOAD segments to the process
// loader, which maps them through internal/vm/supt instead of reading
// them eagerly.
package elf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pintosgo/kernel/internal/addrspace"
)

// Constants from the ELF32 / x86 ABI this loader targets exclusively.
const (
	magic0, magic1, magic2, magic3 = 0x7f, 'E', 'L', 'F'

	classELF32   = 1
	dataLSB      = 1
	typeExec     = 2
	machine386   = 3
	versionCurr  = 1
	phEntrySize  = 32

	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptShlib   = 5
)

// Ehdr is the ELF32 file header, decoded field by field (no struct tag
// magic — matches the explicit encode/decode style internal/inode uses
// for its own fixed on-disk layout).
type Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

const ehdrSize = 16 + 2 + 2 + 4 + 4 + 4 + 4 + 4 + 2 + 2 + 2 + 2 + 2 + 2

// Phdr is one ELF32 program header entry.
type Phdr struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

const phdrSize = 4 * 8

// PF_W / PF_X are the segment flag bits the loader checks to decide page
// permissions.
const (
	PfExecute = 1 << 0
	PfWrite   = 1 << 1
	PfRead    = 1 << 2
)

// ReadEhdr reads and decodes the file header at the start of r.
func ReadEhdr(r io.ReaderAt) (Ehdr, error) {
	var buf [ehdrSize]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return Ehdr{}, fmt.Errorf("elf: reading header: %w", err)
	}

	var h Ehdr
	copy(h.Ident[:], buf[0:16])
	o := 16
	h.Type = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.Machine = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.Version = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.Entry = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.Phoff = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.Shoff = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.Flags = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.Ehsize = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.Phentsize = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.Phnum = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.Shentsize = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.Shnum = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.Shstrndx = binary.LittleEndian.Uint16(buf[o:])
	return h, nil
}

// Validate rejects anything but a statically linked, 32-bit x86
// executable, per spec §4.D's loader rules: magic, class, endianness,
// type, machine, version, header size, a sane program header count, and
// no PT_DYNAMIC/PT_INTERP/PT_SHLIB segment (this loader does not support
// dynamic linking).
func Validate(h Ehdr, segs []Phdr) error {
	if h.Ident[0] != magic0 || h.Ident[1] != magic1 || h.Ident[2] != magic2 || h.Ident[3] != magic3 {
		return fmt.Errorf("elf: bad magic")
	}
	if h.Ident[4] != classELF32 {
		return fmt.Errorf("elf: not a 32-bit executable")
	}
	if h.Ident[5] != dataLSB {
		return fmt.Errorf("elf: not little-endian")
	}
	if h.Type != typeExec {
		return fmt.Errorf("elf: not an executable (type %d)", h.Type)
	}
	if h.Machine != machine386 {
		return fmt.Errorf("elf: not an i386 binary (machine %d)", h.Machine)
	}
	if h.Version != versionCurr {
		return fmt.Errorf("elf: unsupported version %d", h.Version)
	}
	if h.Phentsize != phEntrySize {
		return fmt.Errorf("elf: unexpected program header entry size %d", h.Phentsize)
	}
	if h.Phnum > 1024 {
		return fmt.Errorf("elf: implausible program header count %d", h.Phnum)
	}
	kernelBase := uint64(addrspace.PhysBase)
	for _, p := range segs {
		switch p.Type {
		case ptDynamic:
			return fmt.Errorf("elf: dynamically linked binaries are not supported")
		case ptInterp:
			return fmt.Errorf("elf: binary requires an interpreter")
		case ptShlib:
			return fmt.Errorf("elf: PT_SHLIB segment present")
		}
		if p.Type != ptLoad {
			continue
		}
		if p.Memsz < p.Filesz {
			return fmt.Errorf("elf: PT_LOAD segment has memsz < filesz")
		}
		if p.Vaddr == 0 {
			return fmt.Errorf("elf: PT_LOAD segment maps page 0")
		}
		if uint64(p.Vaddr)+uint64(p.Memsz) > kernelBase {
			return fmt.Errorf("elf: PT_LOAD segment wraps into the kernel range")
		}
	}
	return nil
}

// Segments reads and decodes h's program header table from r.
func Segments(r io.ReaderAt, h Ehdr) ([]Phdr, error) {
	if h.Phentsize != phEntrySize {
		return nil, fmt.Errorf("elf: unexpected program header entry size %d", h.Phentsize)
	}

	out := make([]Phdr, h.Phnum)
	buf := make([]byte, int(h.Phnum)*phdrSize)
	if _, err := r.ReadAt(buf, int64(h.Phoff)); err != nil {
		return nil, fmt.Errorf("elf: reading program headers: %w", err)
	}

	for i := range out {
		b := buf[i*phdrSize:]
		p := &out[i]
		p.Type = binary.LittleEndian.Uint32(b[0:])
		p.Offset = binary.LittleEndian.Uint32(b[4:])
		p.Vaddr = binary.LittleEndian.Uint32(b[8:])
		p.Paddr = binary.LittleEndian.Uint32(b[12:])
		p.Filesz = binary.LittleEndian.Uint32(b[16:])
		p.Memsz = binary.LittleEndian.Uint32(b[20:])
		p.Flags = binary.LittleEndian.Uint32(b[24:])
		p.Align = binary.LittleEndian.Uint32(b[28:])
	}
	return out, nil
}

// LoadSegments filters segs down to the PT_LOAD entries the process
// loader actually maps.
func LoadSegments(segs []Phdr) []Phdr {
	var out []Phdr
	for _, p := range segs {
		if p.Type == ptLoad {
			out = append(out, p)
		}
	}
	return out
}
