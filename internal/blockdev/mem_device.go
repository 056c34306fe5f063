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

package blockdev

// MemDevice is an in-memory Device, used by unit tests that want a block
// device without touching the filesystem.
type MemDevice struct {
	sectors [][SectorSize]byte
}

// NewMemDevice returns a MemDevice with the given number of zeroed
// sectors.
func NewMemDevice(sectorCount uint32) *MemDevice {
	return &MemDevice{sectors: make([][SectorSize]byte, sectorCount)}
}

func (d *MemDevice) ReadSector(idx uint32, dst []byte) {
	checkBuf(dst)
	checkBounds(idx, uint32(len(d.sectors)))
	copy(dst, d.sectors[idx][:])
}

func (d *MemDevice) WriteSector(idx uint32, src []byte) {
	checkBuf(src)
	checkBounds(idx, uint32(len(d.sectors)))
	copy(d.sectors[idx][:], src)
}

func (d *MemDevice) SectorCount() uint32 {
	return uint32(len(d.sectors))
}
