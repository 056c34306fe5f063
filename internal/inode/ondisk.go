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

// Package inode implements the on-disk inode format and the free map
// described in spec §4.B: a fixed-layout, one-sector inode with direct,
// single-indirect, and double-indirect sector pointers, supporting files
// up to MaxFileSize, plus the bitmap-backed allocator that hands out data
// sectors.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/pintosgo/kernel/internal/blockdev"
)

// Magic identifies a valid on-disk inode sector (ASCII "INOD", per spec).
const Magic = 0x494E4F44

const (
	// PointersPerBlock is the number of 4-byte sector pointers that fit
	// in one indirect block.
	PointersPerBlock = blockdev.SectorSize / 4

	// DirectCount is the number of direct sector pointers carried inline
	// in the inode.
	DirectCount = 123

	// IndirectBase is the first logical sector index served by the
	// single-indirect block.
	IndirectBase = DirectCount

	// DoubleIndirectBase is the first logical sector index served by the
	// double-indirect block.
	DoubleIndirectBase = IndirectBase + PointersPerBlock

	// MaxSectors is the number of logical sector indices an inode can
	// address: 123 direct + 128 single-indirect + 128*128 double-indirect.
	MaxSectors = DoubleIndirectBase + PointersPerBlock*PointersPerBlock

	// MaxFileSize is the largest file length, in bytes, an inode can
	// index.
	MaxFileSize = int64(MaxSectors) * blockdev.SectorSize
)

// onDiskSize is the encoded size of OnDisk; it must equal
// blockdev.SectorSize.
const onDiskSize = 4 + 4 + 4 + DirectCount*4 + 4 + 4

func init() {
	if onDiskSize != blockdev.SectorSize {
		panic("inode: on-disk layout does not fill one sector")
	}
}

// OnDisk is the fixed, one-sector-wide on-disk inode layout of spec §3:
// 123 direct sector pointers, one single-indirect pointer, one
// double-indirect pointer, an is-directory flag, a length in bytes, and a
// magic number.
type OnDisk struct {
	Magic          uint32
	Length         uint32
	IsDir          uint32
	Direct         [DirectCount]uint32
	Indirect       uint32
	DoubleIndirect uint32
}

// Encode packs d into a fresh sector-sized buffer.
func (d *OnDisk) Encode() []byte {
	buf := make([]byte, blockdev.SectorSize)
	o := 0
	binary.LittleEndian.PutUint32(buf[o:], d.Magic)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], d.Length)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], d.IsDir)
	o += 4
	for _, p := range d.Direct {
		binary.LittleEndian.PutUint32(buf[o:], p)
		o += 4
	}
	binary.LittleEndian.PutUint32(buf[o:], d.Indirect)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], d.DoubleIndirect)
	return buf
}

// Decode unpacks a sector-sized buffer into d, returning an error if the
// magic number does not match.
func (d *OnDisk) Decode(buf []byte) error {
	if len(buf) != blockdev.SectorSize {
		return fmt.Errorf("inode: decode buffer is not one sector wide")
	}
	o := 0
	d.Magic = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	d.Length = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	d.IsDir = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[o:])
		o += 4
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	d.DoubleIndirect = binary.LittleEndian.Uint32(buf[o:])

	if d.Magic != Magic {
		return fmt.Errorf("inode: bad magic %#x", d.Magic)
	}
	return nil
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// numSectorsForLength returns ceil(length/512).
func numSectorsForLength(length int64) uint32 {
	if length <= 0 {
		return 0
	}
	return uint32((length + blockdev.SectorSize - 1) / blockdev.SectorSize)
}

func encodeBlock(ptrs []uint32) []byte {
	buf := make([]byte, blockdev.SectorSize)
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:], p)
	}
	return buf
}

func decodeBlock(buf []byte) [PointersPerBlock]uint32 {
	var out [PointersPerBlock]uint32
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out
}
