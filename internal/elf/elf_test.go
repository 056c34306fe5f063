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

package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimal assembles a minimal ELF32 i386 executable with numPhdrs
// program headers of type phdrType, for exercising ReadEhdr/Segments/Validate without a
// real toolchain-produced binary.
func buildMinimal(t *testing.T, numPhdrs int, phdrType uint32) []byte {
	t.Helper()

	var buf bytes.Buffer
	ident := [16]byte{magic0, magic1, magic2, magic3, classELF32, dataLSB, versionCurr}
	buf.Write(ident[:])

	putU16 := func(v uint16) { var b [2]byte; binary.LittleEndian.PutUint16(b[:], v); buf.Write(b[:]) }
	putU32 := func(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); buf.Write(b[:]) }

	putU16(typeExec)
	putU16(machine386)
	putU32(versionCurr)
	putU32(0x08048000) // entry
	putU32(ehdrSize)   // phoff, right after the header
	putU32(0)          // shoff
	putU32(0)          // flags
	putU16(ehdrSize)
	putU16(phEntrySize)
	putU16(uint16(numPhdrs))
	putU16(0)
	putU16(0)
	putU16(0)

	for i := 0; i < numPhdrs; i++ {
		putU32(phdrType)
		putU32(0x1000) // offset
		putU32(0x08048000)
		putU32(0x08048000)
		putU32(0x500)
		putU32(0x800)
		putU32(PfRead | PfExecute)
		putU32(0x1000)
	}
	return buf.Bytes()
}

func TestReadEhdrAndSegmentsRoundTrip(t *testing.T) {
	data := buildMinimal(t, 1, ptLoad)
	r := bytes.NewReader(data)

	h, err := ReadEhdr(r)
	require.NoError(t, err)
	require.EqualValues(t, typeExec, h.Type)
	require.EqualValues(t, machine386, h.Machine)
	require.EqualValues(t, 1, h.Phnum)

	segs, err := Segments(r, h)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, uint32(ptLoad), segs[0].Type)
	require.Equal(t, uint32(0x500), segs[0].Filesz)
	require.Equal(t, uint32(0x800), segs[0].Memsz)

	require.NoError(t, Validate(h, segs))
	require.Len(t, LoadSegments(segs), 1)
}

func TestValidateRejectsDynamicSegment(t *testing.T) {
	data := buildMinimal(t, 1, ptDynamic)
	r := bytes.NewReader(data)
	h, err := ReadEhdr(r)
	require.NoError(t, err)
	segs, err := Segments(r, h)
	require.NoError(t, err)

	require.Error(t, Validate(h, segs))
}

func TestValidateRejectsBadMagic(t *testing.T) {
	data := buildMinimal(t, 0, ptLoad)
	data[0] = 0x00
	r := bytes.NewReader(data)
	h, err := ReadEhdr(r)
	require.NoError(t, err)
	require.Error(t, Validate(h, nil))
}
