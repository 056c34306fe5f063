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
	"io"
	"sync"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/cache"
)

// Inode is the in-memory handle for an on-disk inode. Open handles for
// the same sector are shared — exactly one in-memory handle exists per
// on-disk inode at a time — so that deny-write and removal are visible
// to every opener.
type Inode struct {
	table  *Table
	cache  *cache.Cache
	fm     *FreeMap
	sector uint32

	mu           sync.Mutex
	refCount     int
	removed      bool
	denyWriteCnt int
	disk         OnDisk
}

// Sector returns the on-disk inode sector backing this handle.
func (ino *Inode) Sector() uint32 { return ino.sector }

// IsDir reports whether the inode represents a directory.
func (ino *Inode) IsDir() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.disk.IsDir != 0
}

// Length returns the current length, in bytes, of the inode's data.
func (ino *Inode) Length() int64 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return int64(ino.disk.Length)
}

// Table is the filesystem-wide registry of open in-memory inode handles,
// keyed by sector, so concurrent opens of the same file share state.
type Table struct {
	cache *cache.Cache
	fm    *FreeMap

	mu   sync.Mutex
	open map[uint32]*Inode
}

// NewTable returns an empty inode table bound to cache and fm.
func NewTable(c *cache.Cache, fm *FreeMap) *Table {
	return &Table{cache: c, fm: fm, open: make(map[uint32]*Inode)}
}

// Open returns the shared in-memory handle for sector, reading it from
// disk on first open.
func (t *Table) Open(sector uint32) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ino, ok := t.open[sector]; ok {
		ino.mu.Lock()
		ino.refCount++
		ino.mu.Unlock()
		return ino, nil
	}

	buf := make([]byte, blockdev.SectorSize)
	t.cache.Read(sector, buf)

	var disk OnDisk
	if err := disk.Decode(buf); err != nil {
		return nil, fmt.Errorf("inode: open sector %d: %w", sector, err)
	}

	ino := &Inode{
		table:    t,
		cache:    t.cache,
		fm:       t.fm,
		sector:   sector,
		refCount: 1,
		disk:     disk,
	}
	t.open[sector] = ino
	return ino, nil
}

// Create allocates and initializes a fresh on-disk inode at sector, with
// the given length (pre-allocating its data sectors, zeroed) and
// directory flag, per spec §4.B Create. On failure every sector
// allocated during the attempt is released (spec §9(c): the original
// leaks them; this implementation unwinds).
func (t *Table) Create(sector uint32, length int64, isDir bool) error {
	if length < 0 || length > MaxFileSize {
		return fmt.Errorf("inode: invalid length %d", length)
	}

	disk := OnDisk{Magic: Magic, Length: uint32(length), IsDir: boolToUint32(isDir)}

	w := newWalker(t.cache, t.fm)
	n := numSectorsForLength(length)
	for i := uint32(0); i < n; i++ {
		if _, err := w.ensureSector(&disk, i, true); err != nil {
			w.unwind()
			return fmt.Errorf("inode: create sector %d: %w", sector, err)
		}
	}

	t.cache.Write(sector, disk.Encode())
	return nil
}

// Close releases one reference to ino. When the last reference closes,
// if the inode was removed, its data and structural sectors (and its
// own inode sector) are returned to the free map.
func (ino *Inode) Close() error {
	ino.mu.Lock()
	ino.refCount--
	last := ino.refCount == 0
	removed := ino.removed
	disk := ino.disk
	sector := ino.sector
	ino.mu.Unlock()

	if !last {
		return nil
	}

	ino.table.mu.Lock()
	delete(ino.table.open, sector)
	ino.table.mu.Unlock()

	if removed {
		releaseTree(ino.cache, ino.fm, &disk)
		ino.fm.Release(sector, 1)
	}
	return nil
}

// Remove marks ino for deletion. Its sectors are only actually freed
// once the last opener calls Close, per spec §4.B.
func (ino *Inode) Remove() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.removed = true
}

// Removed reports whether Remove has been called on this inode.
func (ino *Inode) Removed() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.removed
}

// DenyWrite increments the deny-write counter; while non-zero, Write
// silently rejects writes (spec §4.B "Deny-write protocol").
func (ino *Inode) DenyWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWriteCnt++
}

// AllowWrite decrements the deny-write counter.
func (ino *Inode) AllowWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyWriteCnt == 0 {
		panic("inode: AllowWrite without matching DenyWrite")
	}
	ino.denyWriteCnt--
}

// ReadAt reads len(p) bytes starting at off, in sector-sized chunks,
// splicing partial leading/trailing sectors. It satisfies io.ReaderAt:
// if off is at or past the current length, it returns (0, io.EOF); a
// read that runs off the end returns a short count with io.EOF.
func (ino *Inode) ReadAt(p []byte, off int64) (int, error) {
	ino.mu.Lock()
	length := int64(ino.disk.Length)
	disk := ino.disk
	ino.mu.Unlock()

	if off >= length {
		return 0, io.EOF
	}
	if off+int64(len(p)) > length {
		p = p[:length-off]
	}

	w := newWalker(ino.cache, ino.fm)
	n := 0
	for n < len(p) {
		cur := off + int64(n)
		secIdx := uint32(cur / blockdev.SectorSize)
		secOff := int(cur % blockdev.SectorSize)
		chunk := blockdev.SectorSize - secOff
		if chunk > len(p)-n {
			chunk = len(p) - n
		}

		sector, err := w.ensureSector(&disk, secIdx, false)
		if err != nil {
			return n, err
		}

		if secOff == 0 && chunk == blockdev.SectorSize {
			ino.cache.Read(sector, p[n:n+chunk])
		} else {
			buf := make([]byte, blockdev.SectorSize)
			ino.cache.Read(sector, buf)
			copy(p[n:n+chunk], buf[secOff:secOff+chunk])
		}
		n += chunk
	}

	if n < len(p) || off+int64(n) >= length {
		// We already clamped p to length above, so reaching exactly
		// length here is the short-read/EOF case per io.ReaderAt.
	}
	if off+int64(n) >= length {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes len(p) bytes at off, extending the inode (allocating
// new sectors and growing Length) if the write runs past the current
// length, per spec §4.B "Growth on write". If the inode's deny-write
// counter is non-zero, the write is silently rejected and WriteAt
// returns (0, nil), matching spec §7's Permission error kind.
func (ino *Inode) WriteAt(p []byte, off int64) (int, error) {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	if ino.denyWriteCnt > 0 {
		return 0, nil
	}
	if off < 0 || off+int64(len(p)) > MaxFileSize {
		return 0, fmt.Errorf("inode: write out of range (off=%d len=%d)", off, len(p))
	}

	w := newWalker(ino.cache, ino.fm)
	newLen := off + int64(len(p))
	if newLen > int64(ino.disk.Length) {
		oldSectors := numSectorsForLength(int64(ino.disk.Length))
		newSectors := numSectorsForLength(newLen)
		for i := oldSectors; i < newSectors; i++ {
			if _, err := w.ensureSector(&ino.disk, i, true); err != nil {
				w.unwind()
				return 0, fmt.Errorf("inode: growing: %w", err)
			}
		}
		ino.disk.Length = uint32(newLen)
	}

	n := 0
	for n < len(p) {
		cur := off + int64(n)
		secIdx := uint32(cur / blockdev.SectorSize)
		secOff := int(cur % blockdev.SectorSize)
		chunk := blockdev.SectorSize - secOff
		if chunk > len(p)-n {
			chunk = len(p) - n
		}

		sector, err := w.ensureSector(&ino.disk, secIdx, true)
		if err != nil {
			w.unwind()
			return n, err
		}

		if secOff == 0 && chunk == blockdev.SectorSize {
			ino.cache.Write(sector, p[n:n+chunk])
		} else {
			buf := make([]byte, blockdev.SectorSize)
			ino.cache.Read(sector, buf)
			copy(buf[secOff:secOff+chunk], p[n:n+chunk])
			ino.cache.Write(sector, buf)
		}
		n += chunk
	}

	ino.cache.Write(ino.sector, ino.disk.Encode())
	return n, nil
}
