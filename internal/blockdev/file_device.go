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

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice is a Device backed by a regular file, addressed with
// positioned reads/writes so the device can be shared (read-only) by
// multiple goroutines without a seek/read race.
type FileDevice struct {
	f       *os.File
	sectors uint32
}

// OpenFileDevice opens path as a block device of the given sector count,
// creating it (zero-filled) if it does not exist. An exclusive flock is
// taken on the file for as long as the process runs, mirroring the
// exclusivity a real kernel gets for free by owning the disk controller:
// two kernel instances must not mount the same disk image concurrently.
func OpenFileDevice(path string, sectorCount uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: opening %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: locking %s: %w", path, err)
	}

	want := int64(sectorCount) * SectorSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockdev: truncating %s: %w", path, err)
		}
	}

	return &FileDevice{f: f, sectors: sectorCount}, nil
}

// Close releases the device's file and its flock.
func (d *FileDevice) Close() error {
	return d.f.Close()
}

func (d *FileDevice) ReadSector(idx uint32, dst []byte) {
	checkBuf(dst)
	checkBounds(idx, d.sectors)

	n, err := unix.Pread(int(d.f.Fd()), dst, int64(idx)*SectorSize)
	if err != nil {
		panic(fmt.Sprintf("blockdev: pread sector %d: %v", idx, err))
	}
	if n != SectorSize {
		panic(fmt.Sprintf("blockdev: short read on sector %d: %d bytes", idx, n))
	}
}

func (d *FileDevice) WriteSector(idx uint32, src []byte) {
	checkBuf(src)
	checkBounds(idx, d.sectors)

	n, err := unix.Pwrite(int(d.f.Fd()), src, int64(idx)*SectorSize)
	if err != nil {
		panic(fmt.Sprintf("blockdev: pwrite sector %d: %v", idx, err))
	}
	if n != SectorSize {
		panic(fmt.Sprintf("blockdev: short write on sector %d: %d bytes", idx, n))
	}
}

func (d *FileDevice) SectorCount() uint32 {
	return d.sectors
}
