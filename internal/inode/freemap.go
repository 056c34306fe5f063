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

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/cache"
	"github.com/pintosgo/kernel/internal/freebitmap"
)

// FreeMapSector and RootDirSector are the two fixed, well-known inode
// sectors of spec §6's on-disk format.
const (
	FreeMapSector    = 0
	RootDirSector    = 1
	firstDataSector  = 2
)

// FreeMap is the allocator for data sectors: a bitmap over the device's
// data-sector range, persisted through the buffer cache in the sectors
// reachable from the on-disk inode at FreeMapSector.
type FreeMap struct {
	cache       *cache.Cache
	bm          *freebitmap.Bitmap
	backing     []uint32 // absolute sectors holding the persisted bitmap
	bitmapBytes int
}

// FormatFreeMap lays out a fresh filesystem's metadata on dev-backed
// cache: it reserves FreeMapSector for the free map's own on-disk inode,
// RootDirSector for the root directory's on-disk inode, and enough
// sectors after that to hold the free map's bitmap, then marks all of
// those reserved in the bitmap itself before anything else can allocate
// from it.
func FormatFreeMap(c *cache.Cache, totalSectors uint32) (*FreeMap, error) {
	if totalSectors <= firstDataSector {
		return nil, fmt.Errorf("inode: device too small to format (%d sectors)", totalSectors)
	}
	dataSectors := totalSectors - firstDataSector

	bm := freebitmap.New(int(dataSectors))
	bitmapBytes := (int(dataSectors) + 7) / 8
	bitmapSectors := (bitmapBytes + blockdev.SectorSize - 1) / blockdev.SectorSize
	if bitmapSectors > DirectCount {
		return nil, fmt.Errorf("inode: device too large for a direct-only free map inode")
	}

	start, ok := bm.Allocate(bitmapSectors)
	if !ok || start != 0 {
		return nil, fmt.Errorf("inode: could not reserve free map bitmap sectors")
	}

	backing := make([]uint32, bitmapSectors)
	for i := range backing {
		backing[i] = firstDataSector + uint32(i)
	}

	fm := &FreeMap{cache: c, bm: bm, backing: backing, bitmapBytes: bitmapBytes}

	disk := OnDisk{Magic: Magic, Length: uint32(bitmapBytes), IsDir: 0}
	copy(disk.Direct[:], backing)
	c.Write(FreeMapSector, disk.Encode())

	if err := fm.persist(); err != nil {
		return nil, err
	}

	rootDisk := OnDisk{Magic: Magic, Length: 0, IsDir: 1}
	c.Write(RootDirSector, rootDisk.Encode())

	return fm, nil
}

// OpenFreeMap reconstructs a FreeMap from an already-formatted device by
// reading the on-disk inode at FreeMapSector and the bitmap bytes it
// points to.
func OpenFreeMap(c *cache.Cache, totalSectors uint32) (*FreeMap, error) {
	buf := make([]byte, blockdev.SectorSize)
	c.Read(FreeMapSector, buf)

	var disk OnDisk
	if err := disk.Decode(buf); err != nil {
		return nil, fmt.Errorf("inode: reading free map inode: %w", err)
	}

	dataSectors := totalSectors - firstDataSector
	bitmapSectors := numSectorsForLength(int64(disk.Length))
	backing := make([]uint32, bitmapSectors)
	copy(backing, disk.Direct[:bitmapSectors])

	data := make([]byte, 0, int(bitmapSectors)*blockdev.SectorSize)
	sec := make([]byte, blockdev.SectorSize)
	for _, s := range backing {
		c.Read(s, sec)
		data = append(data, sec...)
	}

	bm := freebitmap.New(int(dataSectors))
	if err := bm.UnmarshalBinary(int(dataSectors), data); err != nil {
		return nil, err
	}

	return &FreeMap{cache: c, bm: bm, backing: backing, bitmapBytes: int(disk.Length)}, nil
}

// Allocate reserves n contiguous data sectors and returns the absolute
// sector number of the first one.
func (fm *FreeMap) Allocate(n int) (sector uint32, ok bool) {
	start, ok := fm.bm.Allocate(n)
	if !ok {
		return 0, false
	}
	if err := fm.persist(); err != nil {
		fm.bm.Release(start, n)
		return 0, false
	}
	return firstDataSector + uint32(start), true
}

// Release returns n contiguous data sectors, starting at sector, to the
// free map.
func (fm *FreeMap) Release(sector uint32, n int) {
	fm.bm.Release(int(sector-firstDataSector), n)
	fm.persist()
}

func (fm *FreeMap) persist() error {
	data, err := fm.bm.MarshalBinary()
	if err != nil {
		return err
	}
	for i, s := range fm.backing {
		lo := i * blockdev.SectorSize
		hi := lo + blockdev.SectorSize
		buf := make([]byte, blockdev.SectorSize)
		if lo < len(data) {
			end := hi
			if end > len(data) {
				end = len(data)
			}
			copy(buf, data[lo:end])
		}
		fm.cache.Write(s, buf)
	}
	return nil
}
