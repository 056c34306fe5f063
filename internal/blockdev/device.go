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

// Package blockdev implements the spec's block device abstraction: a flat
// address space of fixed-size sectors, read and written whole. Per the
// spec's failure model (§4.A), sector I/O is assumed infallible by the
// device layer — any I/O error is a bug in the caller or the host, not a
// recoverable condition, so both implementations panic rather than return
// an error.
package blockdev

// SectorSize is the fixed size, in bytes, of one block sector.
const SectorSize = 512

// Device is a raw block device: a flat array of fixed-size sectors. The
// filesystem device and the swap device are each a Device, opened with a
// distinct role.
type Device interface {
	// ReadSector fills dst (which must be SectorSize bytes) with the
	// contents of sector idx.
	ReadSector(idx uint32, dst []byte)

	// WriteSector writes src (which must be SectorSize bytes) to sector
	// idx.
	WriteSector(idx uint32, src []byte)

	// SectorCount returns the number of addressable sectors on the device.
	SectorCount() uint32
}

func checkBuf(buf []byte) {
	if len(buf) != SectorSize {
		panic("blockdev: buffer is not one sector wide")
	}
}

func checkBounds(idx, count uint32) {
	if idx >= count {
		panic("blockdev: sector index out of range")
	}
}
