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

// Package filesys is the top-level filesystem facade: it owns the
// filesystem mutex of spec §5 ("filesystem mutex: protects free map +
// directory + inode metadata; held during every filesystem syscall"),
// and wires the buffer cache, inode table, free map, and directory layer
// together behind one lock.
package filesys

import (
	"fmt"
	"log"
	"sync"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/cache"
	"github.com/pintosgo/kernel/internal/fsdir"
	"github.com/pintosgo/kernel/internal/inode"
	"github.com/pintosgo/kernel/internal/klog"
)

// FS is the mounted filesystem: one buffer cache over one block device,
// one inode table, one free map.
type FS struct {
	dev   blockdev.Device
	cache *cache.Cache
	fm    *inode.FreeMap
	table *inode.Table

	// mu is the filesystem mutex. The ordering rule of spec §5 applies:
	// this lock may be held across frame allocations (a page fault
	// during file I/O pins its frame before touching it), but code
	// holding the frame-table lock must never try to acquire this one.
	mu  sync.Mutex
	log *log.Logger
}

// Format creates a fresh filesystem on dev (sector count taken from the
// device) and returns it mounted.
func Format(dev blockdev.Device) (*FS, error) {
	c := cache.New(dev)
	fm, err := inode.FormatFreeMap(c, dev.SectorCount())
	if err != nil {
		return nil, fmt.Errorf("filesys: format: %w", err)
	}
	table := inode.NewTable(c, fm)

	root, err := table.Open(inode.RootDirSector)
	if err != nil {
		return nil, fmt.Errorf("filesys: format: opening fresh root: %w", err)
	}
	d := fsdir.Open(root)
	if err := d.Add(".", inode.RootDirSector); err != nil {
		return nil, fmt.Errorf("filesys: format: %w", err)
	}
	if err := d.Add("..", inode.RootDirSector); err != nil {
		return nil, fmt.Errorf("filesys: format: %w", err)
	}
	root.Close()

	return &FS{dev: dev, cache: c, fm: fm, table: table, log: klog.New("fs")}, nil
}

// Mount opens an already-formatted filesystem on dev.
func Mount(dev blockdev.Device) (*FS, error) {
	c := cache.New(dev)
	fm, err := inode.OpenFreeMap(c, dev.SectorCount())
	if err != nil {
		return nil, fmt.Errorf("filesys: mount: %w", err)
	}
	return &FS{dev: dev, cache: c, fm: fm, table: inode.NewTable(c, fm), log: klog.New("fs")}, nil
}

// Shutdown flushes the buffer cache to the device.
func (fs *FS) Shutdown() {
	fs.cache.Shutdown()
}

// Root opens the root directory inode. Caller owns the returned handle.
func (fs *FS) Root() (*inode.Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.table.Open(inode.RootDirSector)
}

// Open resolves path (relative to cwd unless absolute) and opens its
// inode.
func (fs *FS) Open(root, cwd *inode.Inode, path string) (*inode.Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fsdir.Resolve(fs.table, root, cwd, path)
}

// Reopen returns another reference to ino's underlying inode, sharing
// the same in-memory handle and bumping its refcount — used by mmap to
// keep a file's content reachable independent of the file descriptor it
// was mapped from (spec §4.D: "closing the fd used to create a mapping
// does not unmap it").
func (fs *FS) Reopen(ino *inode.Inode) (*inode.Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.table.Open(ino.Sector())
}

// Create makes a new regular file named by path, with initial length 0.
func (fs *FS) Create(root, cwd *inode.Inode, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, leaf, err := fsdir.ResolveParent(fs.table, root, cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	sector, ok := fs.fm.Allocate(1)
	if !ok {
		return fmt.Errorf("filesys: no free sectors for inode")
	}
	if err := fs.table.Create(sector, 0, false); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	if err := fsdir.Open(parent).Add(leaf, sector); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	return nil
}

// Mkdir makes a new directory named by path.
func (fs *FS) Mkdir(root, cwd *inode.Inode, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, leaf, err := fsdir.ResolveParent(fs.table, root, cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	sector, ok := fs.fm.Allocate(1)
	if !ok {
		return fmt.Errorf("filesys: no free sectors for directory inode")
	}
	d, err := fsdir.Mkdir(fs.table, sector, parent.Sector())
	if err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	defer d.Inode().Close()

	if err := fsdir.Open(parent).Add(leaf, sector); err != nil {
		return err
	}
	return nil
}

// Remove unlinks path's directory entry. The underlying inode's sectors
// are reclaimed once its last opener closes it (spec §4.B).
func (fs *FS) Remove(root, cwd *inode.Inode, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, leaf, err := fsdir.ResolveParent(fs.table, root, cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	d := fsdir.Open(parent)
	sector, ok := d.Lookup(leaf)
	if !ok {
		return fmt.Errorf("filesys: %q not found", path)
	}
	if err := d.Remove(leaf); err != nil {
		return err
	}

	ino, err := fs.table.Open(sector)
	if err != nil {
		return err
	}
	ino.Remove()
	return ino.Close()
}
