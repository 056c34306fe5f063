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

// Package swap implements the swap device of spec §4.C: a block device
// sliced into page-sized slots, tracked by a free-slot bitmap, written to
// and read from whole pages at a time by the frame table during
// eviction and by the supplemental page table during page-in.
package swap

import (
	"fmt"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/freebitmap"
)

const pageSectors = 4096 / blockdev.SectorSize

// Device is the swap device: dev sliced into fixed-size slots, one user
// page each.
type Device struct {
	dev blockdev.Device
	bm  *freebitmap.Bitmap
}

// New wraps dev as a swap device. dev's sector count must be a multiple
// of pageSectors; any remainder is simply unaddressable.
func New(dev blockdev.Device) *Device {
	n := int(dev.SectorCount()) / pageSectors
	return &Device{dev: dev, bm: freebitmap.New(n)}
}

// NumSlots returns the device's fixed slot capacity.
func (d *Device) NumSlots() int {
	return d.bm.Len()
}

// Out allocates a free slot and writes page (exactly 4096 bytes) to it.
// Out panics if the device has no free slots — swap exhaustion is a
// resource-exhaustion condition the eviction path cannot recover from,
// exactly like frame.Table's own "no eviction candidate" panic.
func (d *Device) Out(page []byte) (slot int) {
	if len(page) != pageSectors*blockdev.SectorSize {
		panic("swap: page buffer is not one frame wide")
	}
	s, ok := d.bm.AllocateOne()
	if !ok {
		panic("swap: device full, no free slot for eviction")
	}
	for i := 0; i < pageSectors; i++ {
		d.dev.WriteSector(uint32(s*pageSectors+i), page[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize])
	}
	return s
}

// In reads slot's full page into page (exactly 4096 bytes). In panics if
// slot is not currently allocated — reading a free swap slot is a bug in
// the caller, per spec.
func (d *Device) In(slot int, page []byte) {
	if len(page) != pageSectors*blockdev.SectorSize {
		panic("swap: page buffer is not one frame wide")
	}
	if d.bm.Test(slot) {
		panic(fmt.Sprintf("swap: read of free slot %d", slot))
	}
	for i := 0; i < pageSectors; i++ {
		d.dev.ReadSector(uint32(slot*pageSectors+i), page[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize])
	}
}

// Free releases slot back to the pool.
func (d *Device) Free(slot int) {
	d.bm.Release(slot, 1)
}
