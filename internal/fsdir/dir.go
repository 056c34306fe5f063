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

// Package fsdir implements the directory layer on top of internal/inode:
// the fixed 20-byte directory-entry layout from spec §6(d), lookup/add/
// remove, and path resolution. The distilled spec names CHDIR/MKDIR/
// READDIR/ISDIR/INUMBER in its syscall ABI table (§6) without specifying
// directory semantics; this package supplies the classic Pintos directory
// design the original source implies: a sector of fixed-width entries,
// "."/".." bootstrapping on Mkdir, and component-by-component path
// resolution from either an absolute root or a process's cwd.
//
// Grounded on gcsproxy/listing_proxy.go's shape: a lock-guarded listing
// of named entries that is mutated in place and periodically flushed,
// here specialized to a fixed-width on-disk array instead of a GCS
// listing cache.
package fsdir

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/pintosgo/kernel/internal/inode"
)

const (
	// MaxNameLen is the longest a single path component may be.
	MaxNameLen = 14

	// entrySize is the fixed width of one on-disk directory entry:
	// a 4-byte inode sector, a 15-byte name buffer, and a 1-byte in-use
	// flag.
	entrySize = 4 + 15 + 1
)

// Entry is one slot of a directory listing.
type Entry struct {
	InodeSector uint32
	Name        string
	InUse       bool
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(buf[0:], e.InodeSector)
	copy(buf[4:19], []byte(e.Name))
	if e.InUse {
		buf[19] = 1
	}
	return buf
}

func decodeEntry(buf []byte) Entry {
	sector := binary.LittleEndian.Uint32(buf[0:])
	nameBuf := buf[4:19]
	end := 0
	for end < len(nameBuf) && nameBuf[end] != 0 {
		end++
	}
	return Entry{
		InodeSector: sector,
		Name:        string(nameBuf[:end]),
		InUse:       buf[19] != 0,
	}
}

// Dir is a directory, backed by an open inode whose data is an array of
// entrySize-byte Entry records.
type Dir struct {
	mu  sync.Mutex
	ino *inode.Inode
}

// Open wraps an already-open directory inode.
func Open(ino *inode.Inode) *Dir {
	return &Dir{ino: ino}
}

// Inode returns the directory's backing inode.
func (d *Dir) Inode() *inode.Inode { return d.ino }

// Lookup searches for name among in-use entries.
func (d *Dir) Lookup(name string) (sector uint32, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	found := false
	var result uint32
	d.each(func(e Entry, _ int64) bool {
		if e.InUse && e.Name == name {
			result, found = e.InodeSector, true
			return false
		}
		return true
	})
	return result, found
}

// Add inserts a new entry mapping name to sector, reusing a stale slot if
// one exists or appending to the end otherwise. It fails if name already
// exists.
func (d *Dir) Add(name string, sector uint32) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf("fsdir: invalid name %q", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	freeOff := int64(-1)
	conflict := false
	d.each(func(e Entry, off int64) bool {
		if e.InUse && e.Name == name {
			conflict = true
			return false
		}
		if !e.InUse && freeOff < 0 {
			freeOff = off
		}
		return true
	})
	if conflict {
		return fmt.Errorf("fsdir: %q already exists", name)
	}

	enc := encodeEntry(Entry{InodeSector: sector, Name: name, InUse: true})
	if freeOff < 0 {
		freeOff = d.ino.Length()
	}
	if _, err := d.ino.WriteAt(enc, freeOff); err != nil {
		return fmt.Errorf("fsdir: adding %q: %w", name, err)
	}
	return nil
}

// Remove marks name's entry as unused. It does not shrink the directory
// file or touch the target inode.
func (d *Dir) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := false
	d.each(func(e Entry, off int64) bool {
		if e.InUse && e.Name == name {
			e.InUse = false
			d.ino.WriteAt(encodeEntry(e), off)
			removed = true
			return false
		}
		return true
	})
	if !removed {
		return fmt.Errorf("fsdir: %q not found", name)
	}
	return nil
}

// List returns every in-use entry except "." and "..", for READDIR.
func (d *Dir) List() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Entry
	d.each(func(e Entry, _ int64) bool {
		if e.InUse && e.Name != "." && e.Name != ".." {
			out = append(out, e)
		}
		return true
	})
	return out
}

// each iterates every entrySize-byte slot of the directory's data,
// calling fn with the decoded entry and its byte offset. Iteration stops
// early if fn returns false. Caller must hold d.mu.
func (d *Dir) each(fn func(Entry, int64) bool) {
	length := d.ino.Length()
	buf := make([]byte, entrySize)
	for off := int64(0); off+entrySize <= length; off += entrySize {
		n, err := d.ino.ReadAt(buf, off)
		if n < entrySize && err != nil {
			break
		}
		if !fn(decodeEntry(buf), off) {
			return
		}
	}
}

// Mkdir creates a fresh, empty directory inode at sector and populates
// it with the conventional "." and ".." entries.
func Mkdir(tbl *inode.Table, sector, parentSector uint32) (*Dir, error) {
	if err := tbl.Create(sector, 0, true); err != nil {
		return nil, fmt.Errorf("fsdir: mkdir: %w", err)
	}
	ino, err := tbl.Open(sector)
	if err != nil {
		return nil, err
	}
	d := Open(ino)
	if err := d.Add(".", sector); err != nil {
		return nil, err
	}
	if err := d.Add("..", parentSector); err != nil {
		return nil, err
	}
	return d, nil
}

// ResolveParent splits path into (parent directory, final component),
// resolving every component but the last, starting from root if path is
// absolute or cwd otherwise.
func ResolveParent(tbl *inode.Table, root, cwd *inode.Inode, path string) (*inode.Inode, string, error) {
	clean := strings.Trim(path, "/")
	if clean == "" {
		return nil, "", fmt.Errorf("fsdir: empty path")
	}
	parts := strings.Split(clean, "/")
	leaf := parts[len(parts)-1]
	dirParts := parts[:len(parts)-1]

	start := cwd
	if strings.HasPrefix(path, "/") {
		start = root
	}

	dirIno, err := walkDirs(tbl, start, dirParts)
	if err != nil {
		return nil, "", err
	}
	return dirIno, leaf, nil
}

// Resolve opens the inode named by path in full, starting from root if
// absolute or cwd otherwise. The caller owns the returned handle and
// must Close it.
func Resolve(tbl *inode.Table, root, cwd *inode.Inode, path string) (*inode.Inode, error) {
	if path == "/" {
		return tbl.Open(inode.RootDirSector)
	}

	parent, leaf, err := ResolveParent(tbl, root, cwd, path)
	if err != nil {
		return nil, err
	}
	defer parent.Close()

	d := Open(parent)
	sector, ok := d.Lookup(leaf)
	if !ok {
		return nil, fmt.Errorf("fsdir: %q not found", path)
	}
	return tbl.Open(sector)
}

// walkDirs opens start, then descends into each named subdirectory in
// turn, closing intermediates, returning the final directory inode
// (owned by the caller).
func walkDirs(tbl *inode.Table, start *inode.Inode, parts []string) (*inode.Inode, error) {
	cur, err := tbl.Open(start.Sector())
	if err != nil {
		return nil, err
	}

	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		if !cur.IsDir() {
			cur.Close()
			return nil, fmt.Errorf("fsdir: %q is not a directory", p)
		}
		d := Open(cur)
		sector, ok := d.Lookup(p)
		if !ok {
			cur.Close()
			return nil, fmt.Errorf("fsdir: %q not found", p)
		}
		next, err := tbl.Open(sector)
		cur.Close()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
