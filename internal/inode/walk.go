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

package inode

import (
	"fmt"

	"github.com/pintosgo/kernel/internal/cache"
)

var zeroSector [512]byte

// walker resolves logical sector indices against an on-disk inode's
// direct/indirect/double-indirect pointers (spec §4.B "Index-to-sector"),
// optionally allocating missing structure as it goes (spec §4.B
// "Growth on write" / "Create"). It also tracks every sector it
// allocates so a caller can unwind on partial failure (spec §9(c)).
type walker struct {
	cache     *cache.Cache
	fm        *FreeMap
	allocated []uint32
}

func newWalker(c *cache.Cache, fm *FreeMap) *walker {
	return &walker{cache: c, fm: fm}
}

// unwind releases every sector this walker allocated, in reverse order.
// Used when a multi-step operation (Create, growth) fails partway
// through.
func (w *walker) unwind() {
	for i := len(w.allocated) - 1; i >= 0; i-- {
		w.fm.Release(w.allocated[i], 1)
	}
	w.allocated = nil
}

func (w *walker) allocZeroed() (uint32, error) {
	sec, ok := w.fm.Allocate(1)
	if !ok {
		return 0, fmt.Errorf("inode: free map exhausted")
	}
	w.cache.Write(sec, zeroSector[:])
	w.allocated = append(w.allocated, sec)
	return sec, nil
}

// ensureSector resolves logical index i against disk, allocating
// structural (indirect/double-indirect) and leaf (data) sectors on
// demand when allocate is true. When allocate is false, an unallocated
// index returns an error.
func (w *walker) ensureSector(disk *OnDisk, i uint32, allocate bool) (uint32, error) {
	switch {
	case i < IndirectBase:
		return w.ensureDirect(disk, i, allocate)
	case i < DoubleIndirectBase:
		return w.ensureSingleIndirect(disk, i-IndirectBase, allocate)
	case i < MaxSectors:
		idx := i - DoubleIndirectBase
		return w.ensureDoubleIndirect(disk, idx/PointersPerBlock, idx%PointersPerBlock, allocate)
	default:
		return 0, fmt.Errorf("inode: logical sector %d exceeds MaxSectors", i)
	}
}

func (w *walker) ensureDirect(disk *OnDisk, i uint32, allocate bool) (uint32, error) {
	if disk.Direct[i] == 0 {
		if !allocate {
			return 0, fmt.Errorf("inode: direct sector %d not allocated", i)
		}
		sec, err := w.allocZeroed()
		if err != nil {
			return 0, err
		}
		disk.Direct[i] = sec
	}
	return disk.Direct[i], nil
}

func (w *walker) ensureSingleIndirect(disk *OnDisk, idx uint32, allocate bool) (uint32, error) {
	if disk.Indirect == 0 {
		if !allocate {
			return 0, fmt.Errorf("inode: single-indirect block not allocated")
		}
		sec, err := w.allocZeroed()
		if err != nil {
			return 0, err
		}
		disk.Indirect = sec
	}

	block := w.readBlock(disk.Indirect)
	if block[idx] == 0 {
		if !allocate {
			return 0, fmt.Errorf("inode: indirect entry %d not allocated", idx)
		}
		sec, err := w.allocZeroed()
		if err != nil {
			return 0, err
		}
		block[idx] = sec
		w.writeBlock(disk.Indirect, block)
	}
	return block[idx], nil
}

func (w *walker) ensureDoubleIndirect(disk *OnDisk, outer, inner uint32, allocate bool) (uint32, error) {
	if disk.DoubleIndirect == 0 {
		if !allocate {
			return 0, fmt.Errorf("inode: double-indirect block not allocated")
		}
		sec, err := w.allocZeroed()
		if err != nil {
			return 0, err
		}
		disk.DoubleIndirect = sec
	}

	outerBlock := w.readBlock(disk.DoubleIndirect)
	if outerBlock[outer] == 0 {
		if !allocate {
			return 0, fmt.Errorf("inode: double-indirect outer entry %d not allocated", outer)
		}
		sec, err := w.allocZeroed()
		if err != nil {
			return 0, err
		}
		outerBlock[outer] = sec
		w.writeBlock(disk.DoubleIndirect, outerBlock)
	}

	innerBlock := w.readBlock(outerBlock[outer])
	if innerBlock[inner] == 0 {
		if !allocate {
			return 0, fmt.Errorf("inode: double-indirect inner entry %d not allocated", inner)
		}
		sec, err := w.allocZeroed()
		if err != nil {
			return 0, err
		}
		innerBlock[inner] = sec
		w.writeBlock(outerBlock[outer], innerBlock)
	}
	return innerBlock[inner], nil
}

func (w *walker) readBlock(sector uint32) [PointersPerBlock]uint32 {
	buf := make([]byte, 512)
	w.cache.Read(sector, buf)
	return decodeBlock(buf)
}

func (w *walker) writeBlock(sector uint32, block [PointersPerBlock]uint32) {
	w.cache.Write(sector, encodeBlock(block[:]))
}

// releaseTree returns every data sector and structural block reachable
// by disk (up to ceil(disk.Length/512) logical indices) to fm, per spec
// §4.B Delete: "walk the same tree and return every reachable data
// sector ... then the indirect blocks themselves".
func releaseTree(c *cache.Cache, fm *FreeMap, disk *OnDisk) {
	n := numSectorsForLength(int64(disk.Length))

	for i := uint32(0); i < n && i < IndirectBase; i++ {
		if disk.Direct[i] != 0 {
			fm.Release(disk.Direct[i], 1)
		}
	}

	if n > IndirectBase {
		releaseIndirect(c, fm, disk.Indirect, min32(n-IndirectBase, PointersPerBlock))
		fm.Release(disk.Indirect, 1)
	}

	if n > DoubleIndirectBase {
		remaining := n - DoubleIndirectBase
		outerCount := (remaining + PointersPerBlock - 1) / PointersPerBlock
		outerBlock := decodeBlockFrom(c, disk.DoubleIndirect)
		for o := uint32(0); o < outerCount; o++ {
			count := remaining - o*PointersPerBlock
			if count > PointersPerBlock {
				count = PointersPerBlock
			}
			releaseIndirect(c, fm, outerBlock[o], count)
			fm.Release(outerBlock[o], 1)
		}
		fm.Release(disk.DoubleIndirect, 1)
	}
}

func releaseIndirect(c *cache.Cache, fm *FreeMap, sector uint32, count uint32) {
	block := decodeBlockFrom(c, sector)
	for i := uint32(0); i < count; i++ {
		if block[i] != 0 {
			fm.Release(block[i], 1)
		}
	}
}

func decodeBlockFrom(c *cache.Cache, sector uint32) [PointersPerBlock]uint32 {
	buf := make([]byte, 512)
	c.Read(sector, buf)
	return decodeBlock(buf)
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
